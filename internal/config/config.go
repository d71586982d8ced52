// Copyright 2026 Blink Labs Software
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
	"fmt"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/dropmine/priority"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "dropmine.config"

const DefaultShutdownTimeout = "30s"

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
	AuthToken       string   `yaml:"authToken"       envconfig:"DROPMINE_AUTH_TOKEN"`
	DataDir         string   `yaml:"dataDir"                                          split_words:"true"`
	BindAddr        string   `yaml:"bindAddr"                                         split_words:"true"`
	ProxyUrl        string   `yaml:"proxyUrl"                                         split_words:"true"`
	UserAgent       string   `yaml:"userAgent"                                        split_words:"true"`
	PriorityMode    string   `yaml:"priorityMode"                                     split_words:"true"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"                                  split_words:"true"`
	PriorityGames   []string `yaml:"priorityGames"                                    split_words:"true"`
	ExcludeGames    []string `yaml:"excludeGames"                                     split_words:"true"`
	MetricsPort     uint     `yaml:"metricsPort"                                      split_words:"true"`
}

var globalConfig = &Config{
	BindAddr:        "0.0.0.0",
	MetricsPort:     12799,
	DataDir:         ".dropmine",
	PriorityMode:    string(priority.ModeEndingSoonest),
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.dropmine/dropmine.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".dropmine", "dropmine.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/dropmine/dropmine.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/dropmine/dropmine.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("dropmine", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Validate priority mode
	switch priority.Mode(globalConfig.PriorityMode) {
	case priority.ModeEndingSoonest, priority.ModePriorityOnly:
	case "":
		globalConfig.PriorityMode = string(priority.ModeEndingSoonest)
	default:
		return nil, fmt.Errorf(
			"invalid priorityMode: %q (must be %q or %q)",
			globalConfig.PriorityMode,
			priority.ModeEndingSoonest,
			priority.ModePriorityOnly,
		)
	}
	if priority.Mode(globalConfig.PriorityMode) == priority.ModePriorityOnly &&
		len(globalConfig.PriorityGames) == 0 {
		return nil, fmt.Errorf(
			"priorityMode %q requires at least one entry in priorityGames",
			priority.ModePriorityOnly,
		)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
