package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug   bool
	AppName string
	Env     string // DEV (local; default), TEST, PROD
	Build   string

	APIBaseURL  string
	WSURL       string
	HTTPTimeout time.Duration

	ReconnectDelay      time.Duration
	ReconnectMaxRetries int
	Heartbeat           time.Duration

	PulseDuration time.Duration
	CallbackAddr  string
	Profile       string
	StateDir      string

	RollbarToken string
}

func defaultConf() *viper.Viper {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("app_name", "UniHub")
	conf.SetDefault("build", "develop")
	conf.SetDefault("api_base_url", "http://localhost:8080/api")
	conf.SetDefault("ws_url", "ws://localhost:8080/ws/websocket")
	conf.SetDefault("http_timeout", 15*time.Second)
	conf.SetDefault("reconnect_delay", 5*time.Second)
	conf.SetDefault("reconnect_max_retries", 5)
	conf.SetDefault("heartbeat", 4*time.Second)
	conf.SetDefault("pulse_duration", time.Second)
	conf.SetDefault("callback_addr", "127.0.0.1:8765")
	conf.SetDefault("profile", "default")
	conf.SetDefault("state_dir", "")
	conf.SetDefault("rollbar_token", "")
	return conf
}

// NewConfig reads the configuration from UNIHUB_* environment variables,
// optionally seeded by config/.env.<env>.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("UNIHUB_ENV"))
	if env == "" {
		env = "DEV"
	}

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}

	conf := defaultConf()
	if env == "TEST" {
		conf.SetDefault("debug", false)
	}
	conf.SetEnvPrefix("UNIHUB")
	conf.AutomaticEnv()

	c := &Config{
		Debug:               conf.GetBool("debug"),
		AppName:             conf.GetString("app_name"),
		Env:                 env,
		Build:               conf.GetString("build"),
		APIBaseURL:          strings.TrimRight(conf.GetString("api_base_url"), "/"),
		WSURL:               conf.GetString("ws_url"),
		HTTPTimeout:         conf.GetDuration("http_timeout"),
		ReconnectDelay:      conf.GetDuration("reconnect_delay"),
		ReconnectMaxRetries: conf.GetInt("reconnect_max_retries"),
		Heartbeat:           conf.GetDuration("heartbeat"),
		PulseDuration:       conf.GetDuration("pulse_duration"),
		CallbackAddr:        conf.GetString("callback_addr"),
		Profile:             profileName(conf.GetString("profile")),
		StateDir:            conf.GetString("state_dir"),
		RollbarToken:        conf.GetString("rollbar_token"),
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir(c.AppName, c.Profile)
	}
	return c
}

// profileName lowercases p and keeps [a-z0-9._-]; spaces become underscores.
func profileName(p string) string {
	p = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), " ", "_")
	p = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return -1
	}, p)
	if p == "" || p == "." || p == ".." {
		return "default"
	}
	return p
}

// defaultStateDir is <user config dir>/<app>/<profile>, e.g.
// ~/.config/UniHub/default on Linux.
func defaultStateDir(app, profile string) string {
	root, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		root = filepath.Join(home, ".config")
	}
	return filepath.Join(root, app, profile)
}

// APIOrigin returns the scheme and host of APIBaseURL, e.g. "http://localhost:8080".
// Federated-login endpoints live at the origin, not under the /api prefix.
func (c *Config) APIOrigin() string {
	base := c.APIBaseURL
	if i := strings.Index(base, "://"); i >= 0 {
		if j := strings.Index(base[i+3:], "/"); j >= 0 {
			return base[:i+3+j]
		}
	}
	return base
}
