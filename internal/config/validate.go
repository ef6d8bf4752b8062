package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// claimableStatuses are the statuses a poll quota may name.
var claimableStatuses = map[string]struct{}{
	"pending": {},
	"skipped": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	if err := c.validateBeat(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	if strings.TrimSpace(c.Queue.Name) == "" {
		return errors.New("queue.name must be set")
	}
	if len(c.Queue.PollQuotas) == 0 {
		return errors.New("queue.poll_quotas must list at least one status")
	}
	for _, quota := range c.Queue.PollQuotas {
		if _, ok := claimableStatuses[quota.Status]; !ok {
			return fmt.Errorf("queue.poll_quotas: status %q is not claimable (use pending or skipped)", quota.Status)
		}
		if quota.Limit <= 0 {
			return fmt.Errorf("queue.poll_quotas: limit for %q must be positive", quota.Status)
		}
	}
	return nil
}

func (c *Config) validateTasks() error {
	if c.Tasks.DefaultPriority < 0 {
		return errors.New("tasks.default_priority must be non-negative")
	}
	return nil
}

func (c *Config) validateBeat() error {
	if c.Beat.RedisURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Beat.RedisURL)
	if err != nil {
		return fmt.Errorf("beat.redis_url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss", "unix":
	default:
		return fmt.Errorf("beat.redis_url: unsupported scheme %q", parsed.Scheme)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
}
