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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunner(t *testing.T) {
	ctx := context.Background()
	r := &ShellRunner{Shell: []string{"sh", "-c"}}

	stdout, _, err := r.Run(ctx, []string{"echo", "vim", "|", "grep", "vim"})
	require.NoError(t, err)
	assert.Equal(t, "vim\n", string(stdout))

	stdout, stderr, err := r.Run(ctx, []string{"echo", "out;", "echo", "oops", ">&2;", "exit", "3"})
	require.Error(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "oops\n", string(stderr))
	assert.Contains(t, err.Error(), "stderr:\noops")

	_, _, err = r.Run(ctx, nil)
	assert.Error(t, err)
}

func TestDirectRunner(t *testing.T) {
	r := &ShellRunner{}
	stdout, _, err := r.Run(context.Background(), []string{"echo", "a | b"})
	require.NoError(t, err)
	assert.Equal(t, "a | b\n", string(stdout))
}
