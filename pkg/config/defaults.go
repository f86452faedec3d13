package config

import "time"

// API defaults.
const (
	DefaultAPIBaseURL     = "https://api.codeclimate.com/v1/"
	DefaultAPIPageSize    = 100
	DefaultAPITimeout     = 60 * time.Second
	DefaultAPIMaxAttempts = 3
	DefaultAPIBackoff     = time.Second
	DefaultTokenEnv       = "CODE_CLIMATE_TOKEN"
)

// Polling defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollMaxWait  = 30 * time.Minute
)

// Mirror sync defaults.
const (
	DefaultSyncBranch       = "main"
	DefaultSyncRemote       = "origin"
	DefaultSyncSourceRemote = "target"
	DefaultSyncSSHUser      = "git"
	DefaultSyncAttempts     = 3
	DefaultSyncBackoff      = 2 * time.Second
)

// Output defaults.
const (
	DefaultOutputDir        = "output"
	DefaultQualityModel     = "actual code climate"
	DefaultFrequenciesDir   = "frequencies"
	AlternateFrequenciesDir = "outcome"
)

// DefaultLogLevel is the logging level used when none is configured.
const DefaultLogLevel = "info"

const (
	maxAPIPageSize = 100
	envPrefix      = "CCTAGS"
	configName     = "cctags"
	userConfigDir  = ".config/cctags"
)
