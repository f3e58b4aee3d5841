package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Host            string
	Port            int
	DBPath          string // SQLite file path or postgres:// URL
	Env             string
	LogLevel        string
	ReadTimeout     time.Duration // 0 disables the idle timeout
	WriteTimeout    time.Duration
	MaxLineLength   int
	MessageRate     float64 // chat lines per second
	MessageBurst    int
	AllowMultiLogin bool
	ControlSocket   string
}

func defaults() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            5550,
		DBPath:          "linechat.db",
		Env:             "development",
		LogLevel:        "info",
		ReadTimeout:     30 * time.Minute,
		WriteTimeout:    10 * time.Second,
		MaxLineLength:   1024,
		MessageRate:     5,
		MessageBurst:    10,
		AllowMultiLogin: true,
		ControlSocket:   "/tmp/linechat.sock",
	}
}

// Load builds the configuration from defaults, an optional .env file,
// LINECHAT_* environment variables and finally command-line flags.
// pflag.ErrHelp is returned unchanged when -h/--help was given.
func Load(args []string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	cfg := defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	flagSet := pflag.NewFlagSet("linechat", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "bind host")
	flagSet.IntVarP(&cfg.Port, "port", "p", cfg.Port, "bind port")
	flagSet.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path or postgres:// URL")
	flagSet.StringVar(&cfg.Env, "env", cfg.Env, "development or production (log format)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flagSet.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "disconnect clients idle for this long (0 disables)")
	flagSet.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for a single write to a client")
	flagSet.StringVar(&cfg.ControlSocket, "control-socket", cfg.ControlSocket, "unix socket for stats/shutdown (empty disables)")
	flagSet.BoolVar(&cfg.AllowMultiLogin, "allow-multi-login", cfg.AllowMultiLogin, "allow one user to be logged in from several connections")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if host := os.Getenv("LINECHAT_HOST"); host != "" {
		c.Host = host
	}

	if portStr := os.Getenv("LINECHAT_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("LINECHAT_PORT: %w", err)
		}
		c.Port = port
	}

	if dbPath := os.Getenv("LINECHAT_DB"); dbPath != "" {
		c.DBPath = dbPath
	}

	if env := os.Getenv("LINECHAT_ENV"); env != "" {
		c.Env = env
	}

	if level := os.Getenv("LINECHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if timeoutStr := os.Getenv("LINECHAT_READ_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("LINECHAT_READ_TIMEOUT: %w", err)
		}
		c.ReadTimeout = timeout
	}

	if timeoutStr := os.Getenv("LINECHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("LINECHAT_WRITE_TIMEOUT: %w", err)
		}
		c.WriteTimeout = timeout
	}

	if sock, ok := os.LookupEnv("LINECHAT_CONTROL_SOCKET"); ok {
		c.ControlSocket = sock
	}

	if multi := os.Getenv("LINECHAT_ALLOW_MULTI_LOGIN"); multi != "" {
		allow, err := strconv.ParseBool(multi)
		if err != nil {
			return fmt.Errorf("LINECHAT_ALLOW_MULTI_LOGIN: %w", err)
		}
		c.AllowMultiLogin = allow
	}

	return nil
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %s", c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %s", c.WriteTimeout)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is empty")
	}
	return nil
}
