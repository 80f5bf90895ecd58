package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const StageProd = "prod"

type Config struct {
	Stage string `env:"STAGE" envDefault:"dev"`

	// Endpoint candidates, in priority order: override, dev origin, production origin.
	EndpointOverride string `env:"SEABATTLE_API_URL"`
	DevOrigin        string `env:"SEABATTLE_DEV_ORIGIN" envDefault:"http://localhost:8080"`
	ProductionOrigin string `env:"SEABATTLE_PRODUCTION_ORIGIN"`
	PushOrigin       string `env:"SEABATTLE_PUSH_ORIGIN"`

	ProbeTimeout       time.Duration `env:"SEABATTLE_PROBE_TIMEOUT" envDefault:"2s"`
	RequestTimeout     time.Duration `env:"SEABATTLE_REQUEST_TIMEOUT" envDefault:"8s"`
	RequestMaxAttempts uint          `env:"SEABATTLE_REQUEST_MAX_ATTEMPTS" envDefault:"3"`
	RequestBackoff     time.Duration `env:"SEABATTLE_REQUEST_BACKOFF" envDefault:"500ms"`
	PushMaxAttempts    uint          `env:"SEABATTLE_PUSH_MAX_ATTEMPTS" envDefault:"5"`
	PushBackoff        time.Duration `env:"SEABATTLE_PUSH_BACKOFF" envDefault:"2s"`
	RoomPollInterval   time.Duration `env:"SEABATTLE_ROOM_POLL_INTERVAL" envDefault:"1s"`

	StorePath     string `env:"SEABATTLE_STORE_PATH" envDefault:"seabattle.db"`
	BotUsername   string `env:"SEABATTLE_BOT_USERNAME"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DevServerAddr string `env:"SEABATTLE_DEVSERVER_ADDR" envDefault:":8080"`
}

// Load reads .env outside production, then the process environment.
func Load() (Config, error) {
	if os.Getenv("STAGE") != StageProd {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool { return c.Stage == StageProd }

// Origins lists endpoint candidates by priority without duplicates. With no
// override, production or push origin configured, only the dev origin is used.
func (c Config) Origins() []string {
	if c.EndpointOverride == "" && c.ProductionOrigin == "" && c.PushOrigin == "" {
		return []string{trimOrigin(c.DevOrigin)}
	}

	var out []string
	add := func(o string) {
		o = trimOrigin(o)
		if o != "" && !slices.Contains(out, o) {
			out = append(out, o)
		}
	}
	add(c.EndpointOverride)
	if !c.Production() {
		add(c.DevOrigin)
	}
	add(c.ProductionOrigin)
	if len(out) == 0 {
		add(c.DevOrigin)
	}
	return out
}

func trimOrigin(o string) string {
	return strings.TrimRight(strings.TrimSpace(o), "/")
}
