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

	"github.com/spf13/pflag"
)

// PopulateCmdlineOptions adds a "<plugin>-<option>" flag for every option of
// every registered plugin, writing directly to the option destination
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	for _, entry := range GetPlugins() {
		for _, opt := range entry.Options {
			name := entry.Name + "-" + opt.Name
			usage := fmt.Sprintf("%s: %s", entry.Name, opt.Description)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", name)
				}
				def, _ := opt.DefaultValue.(string)
				fs.StringVar(dest, name, def, usage)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", name)
				}
				def, _ := opt.DefaultValue.(bool)
				fs.BoolVar(dest, name, def, usage)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", name)
				}
				def, _ := opt.DefaultValue.(int)
				fs.IntVar(dest, name, def, usage)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", name)
				}
				def, _ := opt.DefaultValue.(uint64)
				fs.Uint64Var(dest, name, def, usage)
			default:
				return fmt.Errorf(
					"unknown plugin option type %d for option %s",
					opt.Type,
					name,
				)
			}
		}
	}
	return nil
}
