// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPlugins(t *testing.T) {
	out := listPlugins()
	assert.Contains(t, out, "sqlite:")
	assert.Contains(t, out, "mysql:")
	assert.Contains(t, out, "postgres:")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	flags := cmd.PersistentFlags()
	for _, name := range []string{"debug", "config", "database", "sqlite-data-dir", "mysql-host", "postgres-port"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["version"])
	assert.True(t, names["list"])
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cfgFile := filepath.Join(t.TempDir(), "succinct.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("pageSize: 5\n"), 0o600))
	cmd.SetArgs([]string{"version", "--config", cfgFile})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "succinct devel")
}
