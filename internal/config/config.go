// Package config loads the hub and client settings from the environment.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// MetricsOff disables the Prometheus endpoint when used as METRICS_ADDR.
const MetricsOff = "off"

var validate = validator.New()

type Server struct {
	Host            string        `env:"CHAT_HOST,default=127.0.0.1" validate:"required"`
	Port            int           `env:"CHAT_PORT,default=65432" validate:"min=1,max=65535"`
	MetricsAddr     string        `env:"METRICS_ADDR,default=127.0.0.1:9090" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	MaxMessageSize  int           `env:"MAX_MESSAGE_SIZE,default=4096" validate:"min=1"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"min=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
	CensoredWords   string        `env:"CENSORED_WORDS"`
	CensorCharacter string        `env:"CENSOR_CHARACTER,default=*"`
}

type Client struct {
	ServerAddress string        `env:"CHAT_SERVER_ADDR,default=127.0.0.1:65432" validate:"required,hostname_port"`
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT,default=5s" validate:"gt=0"`
	LogLevel      string        `env:"LOG_LEVEL,default=error" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Colours       bool          `env:"CHAT_COLOURS,default=true"`
}

// LoadServer reads an optional .env file, then the environment.
func LoadServer() (Server, error) {
	_ = godotenv.Load()
	var cfg Server
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Server{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Server{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MetricsAddr != MetricsOff {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return Server{}, fmt.Errorf("invalid METRICS_ADDR %q: %w", cfg.MetricsAddr, err)
		}
	}
	if _, err := cfg.CensorRune(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadClient reads an optional .env file, then the environment.
func LoadClient() (Client, error) {
	_ = godotenv.Load()
	var cfg Client
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Client{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Client{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Server) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Server) MetricsEnabled() bool {
	return c.MetricsAddr != MetricsOff
}

// Words splits CENSORED_WORDS on ';' and drops blanks.
func (c Server) Words() []string {
	parts := lo.Map(strings.Split(c.CensoredWords, ";"), func(w string, _ int) string {
		return strings.TrimSpace(w)
	})
	return lo.Compact(parts)
}

func (c Server) CensorRune() (rune, error) {
	r := []rune(c.CensorCharacter)
	if len(r) != 1 {
		return 0, fmt.Errorf("CENSOR_CHARACTER must be a single character, got %q", c.CensorCharacter)
	}
	return r[0], nil
}
