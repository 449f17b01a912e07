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
	"os"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/pingcap/crashpocket/pkg/backend"
)

// Format replaces every {name} whose name is in values, other braces are
// kept as they are
func Format(s string, values map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			break
		}
		end += open
		if v, ok := values[s[open+1:end]]; ok {
			b.WriteString(s[:open])
			b.WriteString(v)
		} else {
			b.WriteString(s[:open+1])
			end = open
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// FormatAll formats every word of a command template
func FormatAll(words []string, values map[string]string) []string {
	if len(words) == 0 {
		return nil
	}
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = Format(w, values)
	}
	return out
}

// quoteSQL wraps a statement in single quotes so a shell passes it to the
// login client as one argument
func quoteSQL(sql string) string {
	return "'" + sql + "'"
}

// LoadFixture reads the DDL list replayed by reset. Both YAML and JSON
// lists are accepted, a missing file is a configuration error.
func LoadFixture(path string) ([]string, error) {
	if path == "" {
		return nil, backend.NewMissingEntryError("ddl fixture")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.NewMissingEntryError("ddl fixture " + path)
		}
		return nil, errors.Annotatef(err, "read ddl fixture %s", path)
	}
	var ddls []string
	if err := yaml.Unmarshal(data, &ddls); err != nil {
		return nil, errors.Annotatef(err, "parse ddl fixture %s", path)
	}
	return ddls, nil
}
