package main

import (
	"strings"
	"sync"
	"time"

	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
)

// commandContext lazily loads configuration and opens the daemon's databases
// directly. The CLI works against the same SQLite files as the daemon, so it
// keeps sessions short: open, act, close.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withIndex(fn func(*config.Config, *index.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	idx, err := index.Open(cfg.IndexPath())
	if err != nil {
		return err
	}
	defer idx.Close()
	return fn(cfg, idx)
}

func (c *commandContext) withStores(fn func(*config.Config, *index.Store, *jobqueue.Queue) error) error {
	return c.withIndex(func(cfg *config.Config, idx *index.Store) error {
		queue, err := jobqueue.Open(cfg.QueuePath(), time.Duration(cfg.Workflow.LeaseSeconds)*time.Second)
		if err != nil {
			return err
		}
		defer queue.Close()
		return fn(cfg, idx, queue)
	})
}
