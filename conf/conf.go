// Package conf defines the on-disk configuration shape for a reqqueue
// deployment: where the cache lives, how big it may grow, how many network
// workers to run, and how logging is configured. Load decodes it via
// contrib/config.Config[Bootstrap], backed by contrib/config/provider/file.
package conf

import (
	"time"

	"github.com/omalloc/reqqueue/contrib/config"
	"github.com/omalloc/reqqueue/contrib/config/provider/file"
)

type Bootstrap struct {
	Cache   *Cache   `json:"cache" yaml:"cache"`
	Network *Network `json:"network" yaml:"network"`
	Logger  *Logger  `json:"logger" yaml:"logger"`
}

type Cache struct {
	Root             string        `json:"root" yaml:"root"`
	MaxBytes         int64         `json:"max_bytes" yaml:"max_bytes"`
	WriteBehindDelay time.Duration `json:"write_behind_delay" yaml:"write_behind_delay"`
}

type Network struct {
	PoolSize           int           `json:"pool_size" yaml:"pool_size"`
	RequestTimeout     time.Duration `json:"request_timeout" yaml:"request_timeout"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Load reads path (YAML or JSON, by extension) through contrib/config's
// file provider and decodes it into a Bootstrap, expanding any "${VAR}"
// placeholders (e.g. a cache root of "${CACHE_DIR}/reqqueue") against the
// process environment.
func Load(path string) (*Bootstrap, error) {
	c := config.New[Bootstrap](
		config.WithSource(file.New(path)),
		config.WithResolver(config.EnvResolver),
	)
	defer c.Close()

	var b Bootstrap
	if err := c.Scan(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
