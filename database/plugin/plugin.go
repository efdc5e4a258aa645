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

import (
	"fmt"

	"gorm.io/gorm"
)

// Plugin opens a connection to a relational database
type Plugin interface {
	Open(logger Logger) (*gorm.DB, error)
}

// ErrorPlugin is a plugin that always returns an error on Open()
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Open(Logger) (*gorm.DB, error) {
	return nil, e.Err
}

// NewErrorPlugin creates a new error plugin that returns the given error on Open()
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

// OpenPlugin gets a plugin from the registry and opens its database
func OpenPlugin(pluginName string, logger Logger) (*gorm.DB, error) {
	p := GetPlugin(pluginName)
	if p == nil {
		return nil, fmt.Errorf("database plugin '%s' not found", pluginName)
	}
	db, err := p.Open(logger)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to open database plugin '%s': %w",
			pluginName,
			err,
		)
	}
	return db, nil
}

// SetPluginOption sets the value of a named option for a plugin entry. It
// returns an error if the plugin is not found or if the value type is
// incompatible. Unknown options are ignored, so callers may set options that
// only apply to some plugins.
// NOTE: This function writes to the option destinations without
// synchronization and should only be called during initialization.
func SetPluginOption(pluginName string, optionName string, value any) error {
	for i := range pluginEntries {
		p := &pluginEntries[i]
		if p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name != optionName {
				continue
			}
			switch opt.Type {
			case PluginOptionTypeString:
				return setOption[string](opt, value)
			case PluginOptionTypeBool:
				return setOption[bool](opt, value)
			case PluginOptionTypeInt:
				return setOption[int](opt, value)
			case PluginOptionTypeUint:
				// accept uint64 or non-negative int
				if tv, ok := value.(int); ok {
					if tv < 0 {
						return fmt.Errorf(
							"invalid value for option %s: negative int",
							optionName,
						)
					}
					value = uint64(tv)
				}
				return setOption[uint64](opt, value)
			default:
				return fmt.Errorf(
					"unknown plugin option type %d for option %s",
					opt.Type,
					optionName,
				)
			}
		}
		return nil
	}
	return fmt.Errorf("database plugin %s not found", pluginName)
}

func setOption[T any](opt PluginOption, value any) error {
	v, ok := value.(T)
	if !ok {
		return fmt.Errorf(
			"invalid type for option %s: expected %T",
			opt.Name,
			*new(T),
		)
	}
	dest, ok := opt.Dest.(*T)
	if !ok || dest == nil {
		return fmt.Errorf(
			"invalid destination for option %s: expected *%T",
			opt.Name,
			*new(T),
		)
	}
	*dest = v
	return nil
}
