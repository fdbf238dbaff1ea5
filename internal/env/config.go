package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// DBPath is the SQLite database backing the local area
	DBPath string `env:"STASH_DB_PATH,default=stash.db"`

	HTTPAddr  string `env:"STASH_HTTP_ADDR,default=0.0.0.0:7362"`
	DebugHTTP bool   `env:"STASH_DEBUG_HTTP"`
	LogLevel  string `env:"STASH_LOG_LEVEL,default=info"`

	// MaxStores caps the live cache stores the HTTP API keeps open
	MaxStores int `env:"STASH_MAX_STORES,default=1024"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
