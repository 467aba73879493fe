package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Reddit  RedditConfig
	Source  SourceConfig
	Storage StorageConfig
	Cache   CacheConfig
	Server  ServerConfig
	Log     LogConfig
	Restart RestartConfig
}

type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	Subreddits   string // "+"-joined, as Reddit expects in multi-subreddit paths
	PollInterval time.Duration
}

type SourceConfig struct {
	BaseURL        string
	Referer        string
	AcceptLanguage string
	MaxDelay       time.Duration
	Timeout        time.Duration
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	Retention time.Duration
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token for the query API
}

type LogConfig struct {
	Level string
	// ErrorFile, when set, receives a copy of every error record. Relative
	// paths are resolved against the data directory.
	ErrorFile string
}

type RestartConfig struct {
	Delay time.Duration
	// Max is the number of restarts after a listener failure; 0 means unlimited.
	Max int
}

func defaults() Config {
	return Config{
		Reddit: RedditConfig{
			UserAgent:    "MSW Finanzterminbot (by u/sharkmageddon)",
			Subreddits:   "mauerstrassenwetten+CommunityBotTests",
			PollInterval: 5 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:        "https://www.finanzen.net/termine/termine_suchergebnis.asp",
			Referer:        "https://www.finanzen.net/",
			AcceptLanguage: "de-de",
			MaxDelay:       5 * time.Second,
			Timeout:        20 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Retention: 7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Restart: RestartConfig{
			Delay: 120 * time.Second,
			Max:   1,
		},
	}
}

// SubredditList splits the configured subreddits into names.
func (c RedditConfig) SubredditList() []string {
	var out []string
	for _, s := range strings.FieldsFunc(c.Subreddits, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		out = append(out, strings.TrimPrefix(s, "r/"))
	}
	return out
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory and environment variables.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/termine/config.json. The
// .env file only fills variables that are not already set in the
// environment. Environment variables (TERMINE_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// ValidateReddit reports the missing Reddit credentials, if any.
func (c Config) ValidateReddit() error {
	var missing []string
	for _, s := range specs {
		if !strings.HasPrefix(s.key, "reddit.") || !s.required {
			continue
		}
		if v, _ := s.extract(c).(string); v == "" {
			missing = append(missing, s.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: Reddit credentials. Set %s (a .env file in the working directory works too)",
			strings.Join(missing, ", "))
	}
	if len(c.Reddit.SubredditList()) == 0 {
		return errors.New("missing required config: reddit.subreddits is empty")
	}
	return nil
}
