package conf

import (
	"github.com/omalloc/reqqueue"
	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/contrib/log"
	"github.com/omalloc/reqqueue/internal/constants"
)

// LogConfig translates the Bootstrap's logger section into contrib/log's
// Config. A nil Logger yields contrib/log's own zero-value defaults
// (info level, stderr only).
func (b *Bootstrap) LogConfig() log.Config {
	if b.Logger == nil {
		return log.Config{Level: "info"}
	}
	return log.Config{
		Level:      b.Logger.Level,
		Path:       b.Logger.Path,
		Caller:     b.Logger.Caller,
		MaxSize:    b.Logger.MaxSize,
		MaxAge:     b.Logger.MaxAge,
		MaxBackups: b.Logger.MaxBackups,
		Compress:   b.Logger.Compress,
	}
}

// QueueOptions translates a decoded Bootstrap into reqqueue.Options,
// applying the same defaults reqqueue.New itself would if a field is left
// at its zero value.
func (b *Bootstrap) QueueOptions() reqqueue.Options {
	opts := reqqueue.Options{
		Defaults: reqqueue.DefaultDefaults(),
	}

	if b.Cache != nil {
		opts.Cache = cache.Options{
			Root:             b.Cache.Root,
			MaxBytes:         b.Cache.MaxBytes,
			WriteBehindDelay: b.Cache.WriteBehindDelay,
		}
	}
	if opts.Cache.MaxBytes <= 0 {
		opts.Cache.MaxBytes = constants.DefaultMaxCacheBytes
	}

	if b.Network != nil {
		opts.NetworkPoolSize = b.Network.PoolSize
	}

	return opts
}
