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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/succinct-tracker/succinct/database"
	"github.com/succinct-tracker/succinct/database/plugin"
)

type ctxKey string

const configContextKey ctxKey = "succinct.config"

const envPrefix = "succinct"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	// Database holds per-plugin options, keyed by plugin name then option
	// name. It is only read from the config file.
	Database            map[string]map[string]any `yaml:"database"            ignored:"true"`
	BindAddr            string                    `yaml:"bindAddr"                           split_words:"true"`
	AuthSecret          string                    `yaml:"authSecret"                         split_words:"true"`
	JSONDir             string                    `yaml:"jsonDir"             envconfig:"JSON_DIR"`
	SpoolDir            string                    `yaml:"spoolDir"                           split_words:"true"`
	DecodeDir           string                    `yaml:"decodeDir"                          split_words:"true"`
	DatabasePlugin      string                    `yaml:"databasePlugin"                     split_words:"true"`
	MaxPayload          int64                     `yaml:"maxPayload"                         split_words:"true"`
	MaxConnectionsPerIP int                       `yaml:"maxConnectionsPerIP" envconfig:"MAX_CONNECTIONS_PER_IP"`
	MaxChatBytes        int                       `yaml:"maxChatBytes"                       split_words:"true"`
	PageSize            int                       `yaml:"pageSize"                           split_words:"true"`
	AuthTimeout         time.Duration             `yaml:"authTimeout"                        split_words:"true"`
	PushDelay           time.Duration             `yaml:"pushDelay"                          split_words:"true"`
	ShutdownTimeout     time.Duration             `yaml:"shutdownTimeout"                    split_words:"true"`
	WsPort              uint                      `yaml:"wsPort"                             split_words:"true"`
	MetricsPort         uint                      `yaml:"metricsPort"                        split_words:"true"`
	Tracing             bool                      `yaml:"tracing"`
	TracingStdout       bool                      `yaml:"tracingStdout"                      split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		BindAddr:        "0.0.0.0",
		WsPort:          8080,
		MetricsPort:     12799,
		MaxPayload:      65536,
		AuthTimeout:     10 * time.Second,
		PushDelay:       50 * time.Millisecond,
		JSONDir:         "spool/json",
		SpoolDir:        "spool",
		DecodeDir:       "decode",
		MaxChatBytes:    160,
		PageSize:        20,
		DatabasePlugin:  database.DefaultPlugin,
		ShutdownTimeout: 30 * time.Second,
	}
}

var globalConfig = defaultConfig()

// configPaths are searched in order when no config file is given
func configPaths() []string {
	var ret []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		ret = append(ret, filepath.Join(homeDir, ".succinct", "succinct.yaml"))
	}
	return append(ret, "/etc/succinct/succinct.yaml")
}

// LoadConfig builds the config from the package defaults, the YAML config
// file and then the environment
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile == "" {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				configFile = p
				break
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// Process plugin configuration
	for pluginName, options := range cfg.Database {
		for name, value := range options {
			if err := plugin.SetPluginOption(pluginName, name, value); err != nil {
				return nil, fmt.Errorf(
					"error processing database plugin config: %w",
					err,
				)
			}
		}
	}
	globalConfig = cfg
	return cfg, nil
}

func (c *Config) validate() error {
	var err error
	if c.WsPort == 0 || c.WsPort > 65535 {
		err = errors.Join(err, fmt.Errorf("invalid wsPort: %d", c.WsPort))
	}
	if c.MetricsPort > 65535 {
		err = errors.Join(err, fmt.Errorf("invalid metricsPort: %d", c.MetricsPort))
	}
	if c.JSONDir == "" {
		err = errors.Join(err, errors.New("jsonDir must be set"))
	}
	if c.MaxChatBytes <= 0 {
		err = errors.Join(err, fmt.Errorf("invalid maxChatBytes: %d", c.MaxChatBytes))
	}
	if c.PageSize <= 0 {
		err = errors.Join(err, fmt.Errorf("invalid pageSize: %d", c.PageSize))
	}
	if c.MaxConnectionsPerIP < 0 {
		err = errors.Join(
			err,
			fmt.Errorf("invalid maxConnectionsPerIP: %d", c.MaxConnectionsPerIP),
		)
	}
	if c.AuthTimeout <= 0 {
		err = errors.Join(err, fmt.Errorf("invalid authTimeout: %s", c.AuthTimeout))
	}
	if c.PushDelay < 0 {
		err = errors.Join(err, fmt.Errorf("invalid pushDelay: %s", c.PushDelay))
	}
	if c.ShutdownTimeout <= 0 {
		err = errors.Join(
			err,
			fmt.Errorf("invalid shutdownTimeout: %s", c.ShutdownTimeout),
		)
	}
	if plugin.GetPlugin(c.DatabasePlugin) == nil {
		err = errors.Join(
			err,
			fmt.Errorf("unknown databasePlugin: %q", c.DatabasePlugin),
		)
	}
	return err
}

// ListenAddress returns the websocket listen address
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.WsPort)
}

func GetConfig() *Config {
	return globalConfig
}
