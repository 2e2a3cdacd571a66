package cmd

import (
	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

// config holds the environment-driven settings of the CLI.
type config struct {
	LogLevel  null.String `envconfig:"TIDAL_LOG_LEVEL"`
	LogFormat null.String `envconfig:"TIDAL_LOG_FORMAT"`
	NoColor   null.Bool   `envconfig:"TIDAL_NO_COLOR"`
}

func readEnvConfig() (config, error) {
	conf := config{}
	err := envconfig.Process("", &conf)
	return conf, err
}
