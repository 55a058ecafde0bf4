package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"folderwatch/internal/config"
	"folderwatch/internal/logging"
	"folderwatch/internal/storage"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// cliLogger returns the logger shared by one-shot commands. It falls back to
// a no-op logger when the log directory cannot be opened.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

// withGateway opens the database for the duration of fn. Ledger commands use
// it directly; they do not need the daemon lock.
func (c *commandContext) withGateway(ctx context.Context, fn func(*storage.Gateway) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	gw := storage.New(cfg, c.cliLogger())
	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Disconnect() //nolint:errcheck
	if err := gw.CreateAllTables(ctx); err != nil {
		return err
	}
	return fn(gw)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
