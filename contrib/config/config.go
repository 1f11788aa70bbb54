// Package config implements a small generic configuration loader with
// hot-reload support, adapted from the teacher's contrib/config: a
// Config[T] scans one or more Sources into a typed Bootstrap struct, and
// re-scans whenever a Source's Watcher reports a change (SIGHUP on the
// process, or an fsnotify event on the backing file).
package config

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"dario.cat/mergo"

	"github.com/devojony/mediacache/contrib/log"
)

// Observer is notified with the freshly re-scanned Bootstrap value
// whenever configuration changes.
type Observer[T any] func(*T)

// Config loads and (optionally) hot-reloads a typed configuration value.
type Config[T any] interface {
	Scan(v *T) error
	Watch(o Observer[T]) error
	Close() error
}

type config[T any] struct {
	opts *options

	mu        sync.Mutex
	bc        *T
	observers []Observer[T]

	stop    chan struct{}
	signals chan os.Signal
	watchCh chan struct{}
}

// New builds a Config from the given options.
func New[T any](opts ...Option) Config[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &config[T]{
		opts:    o,
		stop:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
		watchCh: make(chan struct{}, 1),
	}

	go c.tick()
	go c.watchSources()

	return c
}

// Scan loads every source into a fresh value and merges it onto v with
// dario.cat/mergo (WithOverride: later sources, and fields a source
// actually sets, win), so v's pre-existing zero-value defaults survive
// wherever a source is silent. Later sources override earlier ones.
func (c *config[T]) Scan(v *T) error {
	c.mu.Lock()
	c.bc = v
	c.mu.Unlock()

	for _, source := range c.opts.sources {
		files, err := source.Load()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file not found: %w", err)
			}
			return err
		}

		for _, file := range files {
			unmarshal := toUnmarshal(file.Format)
			if file.Value == nil {
				continue
			}
			log.Debugf("[config] load key=%s format=%s", file.Key, file.Format)

			var loaded T
			if err := unmarshal(file.Value, &loaded); err != nil {
				return fmt.Errorf("config: unmarshal %s: %w", file.Key, err)
			}
			if err := mergo.Merge(v, loaded, mergo.WithOverride); err != nil {
				return fmt.Errorf("config: merge %s: %w", file.Key, err)
			}
		}
	}
	return nil
}

// Watch registers o to be called after every successful reload.
func (c *config[T]) Watch(o Observer[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
	return nil
}

func (c *config[T]) Close() error {
	close(c.stop)
	return nil
}

// tick re-scans on SIGHUP, matching the teacher's hot-reload trigger.
func (c *config[T]) tick() {
	signal.Notify(c.signals, syscall.SIGHUP)
	for {
		select {
		case <-c.stop:
			signal.Stop(c.signals)
			return
		case <-c.signals:
			c.reload("SIGHUP")
		case <-c.watchCh:
			c.reload("fsnotify")
		}
	}
}

// watchSources fans every source's Watcher into a single reload trigger.
func (c *config[T]) watchSources() {
	for _, source := range c.opts.sources {
		w, err := source.Watch()
		if err != nil {
			continue
		}
		go func(w Watcher) {
			for {
				if _, err := w.Next(); err != nil {
					return
				}
				select {
				case c.watchCh <- struct{}{}:
				default:
				}
			}
		}(w)
	}
}

func (c *config[T]) reload(cause string) {
	log.Debugf("[config] reload triggered by %s", cause)

	c.mu.Lock()
	bc := c.bc
	observers := append([]Observer[T]{}, c.observers...)
	c.mu.Unlock()

	if bc == nil {
		return
	}
	if err := c.Scan(bc); err != nil {
		log.Warnf("[config] reload failed: %v", err)
		return
	}
	for _, o := range observers {
		o(bc)
	}
}
