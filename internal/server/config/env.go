package config

import "github.com/caarlos0/env/v11"

// parseEnv overlays values from the environment using the env struct tags on
// Config. Unset variables leave the current values untouched.
func parseEnv(config *Config) {
	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
