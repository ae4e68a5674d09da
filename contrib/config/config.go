// Package config implements a small, source-agnostic configuration
// loader (the ambient "Configuration" stack): Source/Watcher abstract
// where raw bytes come from (a single file, a remote KV store, ...),
// while the Decoder/Resolver/Merge hooks on Options shape how those bytes
// become the final struct T.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/omalloc/reqqueue/contrib/log"
)

// Observer is notified with the freshly re-scanned config value after
// every successful rescan, whether or not the sources changed.
type Observer[T any] func(string, *T)

// Config loads and re-scans a T from one or more Sources.
type Config[T any] interface {
	Scan(v *T) error
	Watch(key string, o Observer[T]) error
	Close() error
}

type config[T any] struct {
	opts   *options
	stop   chan struct{}
	signal chan os.Signal

	observers map[string][]Observer[T]
	bc        *T
}

// New builds a Config[T] from opts; WithSource is mandatory, everything
// else falls back to the default decode/merge behavior (§ "Ambient stack
// — Configuration").
func New[T any](opts ...Option) Config[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &config[T]{
		opts:      o,
		stop:      make(chan struct{}, 1),
		signal:    make(chan os.Signal, 1),
		observers: make(map[string][]Observer[T]),
	}

	go c.tick()

	return c
}

// Scan loads every configured Source, decodes each KeyValue into a
// shared map[string]any (via opts.decoder, defaulting to defaultDecoder),
// merges the sources together in order (via opts.merge, defaulting to a
// shallow last-source-wins copy), lets opts.resolver rewrite placeholders
// in the merged map in place (e.g. a cache root of "${CACHE_DIR}/reqqueue"
// expanded against the environment), and finally unmarshals the merged
// map into v.
func (c *config[T]) Scan(v *T) error {
	c.bc = v

	decode := c.opts.decoder
	if decode == nil {
		decode = defaultDecoder
	}
	merge := c.opts.merge
	if merge == nil {
		merge = shallowMerge
	}

	merged := make(map[string]any)
	for _, source := range c.opts.sources {
		files, err := source.Load()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file not found: %w", err)
			}
			return err
		}
		for _, file := range files {
			if file.Value == nil {
				continue
			}
			log.Debugf("[config] load file: %#+v format: %s", file.Key, file.Format)
			next := make(map[string]any)
			if err := decode(file, next); err != nil {
				log.Errorf("[config] decode file: %#+v error: %s", file.Key, err)
				continue
			}
			if err := merge(merged, next); err != nil {
				log.Errorf("[config] merge file: %#+v error: %s", file.Key, err)
				continue
			}
		}
	}

	if c.opts.resolver != nil {
		if err := c.opts.resolver(merged); err != nil {
			return err
		}
	}

	buf, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// shallowMerge is the default Merge: src's keys overwrite dst's.
func shallowMerge(dst, src any) error {
	dstMap, ok := dst.(map[string]any)
	if !ok {
		return fmt.Errorf("config: merge destination must be map[string]any, got %T", dst)
	}
	srcMap, ok := src.(map[string]any)
	if !ok {
		return fmt.Errorf("config: merge source must be map[string]any, got %T", src)
	}
	for k, v := range srcMap {
		dstMap[k] = v
	}
	return nil
}

// Watch registers an Observer invoked after every SIGHUP-driven rescan,
// regardless of which key actually changed — callers filter on key
// themselves.
func (c *config[T]) Watch(key string, o Observer[T]) error {
	if c.observers[key] == nil {
		c.observers[key] = make([]Observer[T], 0, 8)
	}
	c.observers[key] = append(c.observers[key], o)
	return nil
}

func (c *config[T]) Close() error {
	c.stop <- struct{}{}
	close(c.stop)
	close(c.signal)
	return nil
}

func (c *config[T]) tick() {
	signal.Notify(c.signal, syscall.SIGHUP)

	for {
		select {
		case <-c.stop:
			return
		case <-c.signal:
			log.Debug("[config] received SIGHUP")
			if err := c.Scan(c.bc); err != nil {
				continue
			}
			for k, observers := range c.observers {
				log.Debugf("[config] upgrade key: %s", k)
				for _, observer := range observers {
					observer(k, c.bc)
				}
			}
		}
	}
}
