// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes one resolved command template
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout, stderr []byte, err error)
}

// ShellRunner runs commands on the local host. With a shell prefix such as
// ["bash", "-c"] the words are joined by a space and handed to the shell,
// so templates may use pipes and quoting. Without one the words are
// executed directly.
type ShellRunner struct {
	Shell []string
}

// Run implements Runner
func (r *ShellRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty command")
	}
	words := argv
	if len(r.Shell) > 0 {
		words = append(append([]string{}, r.Shell...), strings.Join(argv, " "))
	}
	cmdline := strings.Join(argv, " ")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	zap.L().Debug("LocalCommand",
		zap.String("cmd", cmdline),
		zap.String("stdout", stdout.String()),
		zap.String("stderr", stderr.String()),
		zap.Error(err))

	if err != nil {
		errMsg := fmt.Sprintf("command \"%s\" failed: %v", cmdline, err)
		if stdout.Len() != 0 {
			errMsg = fmt.Sprintf("%s\nstdout:\n%s", errMsg, stdout.String())
		}
		if stderr.Len() != 0 {
			errMsg = fmt.Sprintf("%s\nstderr:\n%s", errMsg, stderr.String())
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s", errMsg)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
