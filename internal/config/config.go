package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Format string `mapstructure:"format"`
		Level  string `mapstructure:"level"`
	} `mapstructure:"log"`
	Flows struct {
		// PhaseConfigFile optionally overrides the built-in flow-type
		// phase sequences.
		PhaseConfigFile string `mapstructure:"phase_config_file"`

		// TTL sets expiration_at on new flows; zero disables expiry.
		TTL time.Duration `mapstructure:"ttl"`

		// ResumeTimeout bounds how long resume/delete may block on the
		// store's compare-and-swap.
		ResumeTimeout time.Duration `mapstructure:"resume_timeout"`
	} `mapstructure:"flows"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("flows.resume_timeout", "10s")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; env vars and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
