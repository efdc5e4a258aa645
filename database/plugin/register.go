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

package plugin

import "sync"

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = iota + 1
	PluginOptionTypeBool
	PluginOptionTypeInt
	PluginOptionTypeUint
)

type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
}

var (
	pluginEntries []PluginEntry
	pluginMutex   sync.RWMutex
)

// Register adds a plugin entry to the registry, replacing any entry with the
// same name
func Register(pluginEntry PluginEntry) {
	pluginMutex.Lock()
	defer pluginMutex.Unlock()
	for i := range pluginEntries {
		if pluginEntries[i].Name == pluginEntry.Name {
			pluginEntries[i] = pluginEntry
			return
		}
	}
	pluginEntries = append(pluginEntries, pluginEntry)
}

// GetPlugins returns all registered plugin entries
func GetPlugins() []PluginEntry {
	pluginMutex.RLock()
	defer pluginMutex.RUnlock()
	ret := make([]PluginEntry, len(pluginEntries))
	copy(ret, pluginEntries)
	return ret
}

// GetPlugin returns a new instance of the named plugin, or nil if it is not
// registered
func GetPlugin(name string) Plugin {
	pluginMutex.RLock()
	defer pluginMutex.RUnlock()
	for _, entry := range pluginEntries {
		if entry.Name == name {
			return entry.NewFromOptionsFunc()
		}
	}
	return nil
}
