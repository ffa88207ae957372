package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Auth struct {
		URL            string
		Email          string
		SharedPassword string        `mapstructure:"shared_password"`
		SessionTTL     time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"auth"`

	Cache struct {
		Dir string
	} `mapstructure:"cache"`

	Sync struct {
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"sync"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	// ENV overrides (APP_*) win over the yaml file.
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("auth.email", "shared@inventory.app")
	v.SetDefault("auth.session_ttl", 12*time.Hour)
	v.SetDefault("cache.dir", "data")
	v.SetDefault("sync.probe_interval", 30*time.Second)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
