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

package plugin_test

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/succinct-tracker/succinct/database/plugin"
)

type mockPlugin struct {
	dsn *string
}

func (m *mockPlugin) Open(plugin.Logger) (*gorm.DB, error) {
	return nil, errors.New("mock open: " + *m.dsn)
}

func registerMock(t *testing.T) (string, *string) {
	t.Helper()
	name := "mock-" + t.Name()
	dsn := new(string)
	plugin.Register(plugin.PluginEntry{
		Name:               name,
		Description:        "test plugin",
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{dsn: dsn} },
		Options: []plugin.PluginOption{
			{
				Name: "dsn",
				Type: plugin.PluginOptionTypeString,
				Dest: dsn,
			},
		},
	})
	return name, dsn
}

func TestRegister(t *testing.T) {
	name, _ := registerMock(t)

	require.NotNil(t, plugin.GetPlugin(name))
	found := false
	for _, entry := range plugin.GetPlugins() {
		if entry.Name == name {
			found = true
		}
	}
	assert.True(t, found, "plugin not in GetPlugins list")
	assert.Nil(t, plugin.GetPlugin("does-not-exist"))
}

func TestSetPluginOption(t *testing.T) {
	name, dsn := registerMock(t)

	require.NoError(t, plugin.SetPluginOption(name, "dsn", "file:test"))
	assert.Equal(t, "file:test", *dsn)

	// Wrong type
	require.Error(t, plugin.SetPluginOption(name, "dsn", 123))

	// Unknown options are ignored
	require.NoError(t, plugin.SetPluginOption(name, "does-not-exist", "x"))

	require.Error(t, plugin.SetPluginOption("nonexistent", "dsn", "x"))
}

func TestOpenPlugin(t *testing.T) {
	name, _ := registerMock(t)
	require.NoError(t, plugin.SetPluginOption(name, "dsn", "abc"))

	_, err := plugin.OpenPlugin(name, nil)
	require.ErrorContains(t, err, "mock open: abc")

	_, err = plugin.OpenPlugin("nonexistent", nil)
	require.ErrorContains(t, err, "not found")

	errPlugin := plugin.NewErrorPlugin(errors.New("bad config"))
	_, err = errPlugin.Open(nil)
	require.EqualError(t, err, "bad config")
}

func TestPopulateCmdlineOptions(t *testing.T) {
	name, dsn := registerMock(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	require.NotNil(t, fs.Lookup(name+"-dsn"))
	require.NoError(t, fs.Parse([]string{"--" + name + "-dsn", "file:flag"}))
	assert.Equal(t, "file:flag", *dsn)
}
