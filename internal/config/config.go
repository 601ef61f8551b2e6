package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	HTTP struct {
		Addr string
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
	}
	Admin struct {
		Username string
		Password string
	}
	Limits struct {
		MaxFrameBytes int64
		PushBuffer    int
	}
	RateLimit struct {
		Burst         int
		RefillSeconds int
	}
	WS struct {
		AllowedOrigins []string
	}
	Log struct {
		Level string
	}
}

// TokenTTL returns the admin token lifetime as a duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// RefillInterval returns the rate limiter refill window as a duration.
func (c Config) RefillInterval() time.Duration {
	return time.Duration(c.RateLimit.RefillSeconds) * time.Second
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:5555")
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 30)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("limits.maxframebytes", 1<<20)
	v.SetDefault("limits.pushbuffer", 64)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("ratelimit.refillseconds", 1)
	v.SetDefault("ws.allowedorigins", []string{})
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
