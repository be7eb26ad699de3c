// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

type Config struct {
	Version               string `mapstructure:"-"`
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	BaseURL               string `mapstructure:"baseUrl"`
	SessionSecret         string `mapstructure:"sessionSecret"`
	LogLevel              string `mapstructure:"logLevel"`
	LogPath               string `mapstructure:"logPath"`
	LogMaxSize            int    `mapstructure:"logMaxSize"`
	LogMaxBackups         int    `mapstructure:"logMaxBackups"`
	DataDir               string `mapstructure:"dataDir"`
	PollInterval          int    `mapstructure:"pollInterval"`
	CategoryPollFactor    int    `mapstructure:"categoryPollFactor"`
	PprofEnabled          bool   `mapstructure:"pprofEnabled"`
	MetricsEnabled        bool   `mapstructure:"metricsEnabled"`
	MetricsHost           string `mapstructure:"metricsHost"`
	MetricsPort           int    `mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `mapstructure:"metricsBasicAuthUsers"`
}
