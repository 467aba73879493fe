package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	alias    string // variable name used by older .env files
	secret   bool
	required bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "reddit.client_id", typ: kString, env: "TERMINE_REDDIT_CLIENT_ID", alias: "REDDIT_CLIENT_ID",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Reddit.ClientID = v.(string) },
		extract:  func(cfg Config) any { return cfg.Reddit.ClientID },
	},
	{
		key: "reddit.client_secret", typ: kString, env: "TERMINE_REDDIT_CLIENT_SECRET", alias: "REDDIT_CLIENT_SECRET",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Reddit.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Reddit.ClientSecret },
	},
	{
		key: "reddit.username", typ: kString, env: "TERMINE_REDDIT_USERNAME", alias: "REDDIT_USER",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Reddit.Username = v.(string) },
		extract:  func(cfg Config) any { return cfg.Reddit.Username },
	},
	{
		key: "reddit.password", typ: kString, env: "TERMINE_REDDIT_PASSWORD", alias: "REDDIT_PASSWORD",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Reddit.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Reddit.Password },
	},
	{
		key: "reddit.user_agent", typ: kString, env: "TERMINE_REDDIT_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Reddit.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Reddit.UserAgent },
	},
	{
		key: "reddit.subreddits", typ: kString, env: "TERMINE_REDDIT_SUBREDDITS",
		apply:   func(cfg *Config, v any) { cfg.Reddit.Subreddits = v.(string) },
		extract: func(cfg Config) any { return cfg.Reddit.Subreddits },
	},
	{
		key: "reddit.poll_interval", typ: kDuration, env: "TERMINE_REDDIT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reddit.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reddit.PollInterval },
	},
	{
		key: "source.base_url", typ: kString, env: "TERMINE_SOURCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.BaseURL },
	},
	{
		key: "source.referer", typ: kString, env: "TERMINE_SOURCE_REFERER",
		apply:   func(cfg *Config, v any) { cfg.Source.Referer = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Referer },
	},
	{
		key: "source.accept_language", typ: kString, env: "TERMINE_SOURCE_ACCEPT_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Source.AcceptLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.AcceptLanguage },
	},
	{
		key: "source.max_delay", typ: kDuration, env: "TERMINE_SOURCE_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Source.MaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Source.MaxDelay },
	},
	{
		key: "source.timeout", typ: kDuration, env: "TERMINE_SOURCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Source.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Source.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TERMINE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.retention", typ: kDuration, env: "TERMINE_CACHE_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Cache.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.Retention },
	},
	{
		key: "server.port", typ: kInt, env: "TERMINE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "TERMINE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "TERMINE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.error_file", typ: kString, env: "TERMINE_LOG_ERROR_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.ErrorFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.ErrorFile },
	},
	{
		key: "restart.delay", typ: kDuration, env: "TERMINE_RESTART_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Restart.Delay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Restart.Delay },
	},
	{
		key: "restart.max", typ: kInt, env: "TERMINE_RESTART_MAX",
		apply:   func(cfg *Config, v any) { cfg.Restart.Max = v.(int) },
		extract: func(cfg Config) any { return cfg.Restart.Max },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func lookupEnv(s keySpec) (name, raw string) {
	if raw = os.Getenv(s.env); raw != "" {
		return s.env, raw
	}
	if s.alias != "" {
		if raw = os.Getenv(s.alias); raw != "" {
			return s.alias, raw
		}
	}
	return s.env, ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}
