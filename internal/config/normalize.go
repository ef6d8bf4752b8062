package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeQueue()
	c.normalizeBeat()
	c.normalizeImporter()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("TASKBEAT_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeQueue() {
	c.Queue.Name = strings.TrimSpace(c.Queue.Name)
	if c.Queue.Name == "" {
		c.Queue.Name = defaultQueueName
	}
	if len(c.Queue.PollQuotas) == 0 {
		c.Queue.PollQuotas = defaultPollQuotas()
		return
	}
	// Later entries for the same status override earlier ones.
	quotas := make([]PollQuota, 0, len(c.Queue.PollQuotas))
	index := make(map[string]int, len(c.Queue.PollQuotas))
	for _, quota := range c.Queue.PollQuotas {
		quota.Status = strings.ToLower(strings.TrimSpace(quota.Status))
		if pos, ok := index[quota.Status]; ok {
			quotas[pos] = quota
			continue
		}
		index[quota.Status] = len(quotas)
		quotas = append(quotas, quota)
	}
	c.Queue.PollQuotas = quotas
}

func (c *Config) normalizeBeat() {
	c.Beat.RedisURL = strings.TrimSpace(c.Beat.RedisURL)
	if c.Beat.RedisURL == "" {
		if value, ok := os.LookupEnv("TASKBEAT_REDIS_URL"); ok {
			c.Beat.RedisURL = strings.TrimSpace(value)
		}
	}
	c.Beat.RedisChannel = strings.TrimSpace(c.Beat.RedisChannel)
	if c.Beat.RedisChannel == "" {
		c.Beat.RedisChannel = defaultRedisChannel
	}
	if c.Beat.IntervalSeconds < 0 {
		c.Beat.IntervalSeconds = 0
	}
}

func (c *Config) normalizeImporter() {
	c.Importer.ResourceTypes = uniqueTrimmed(c.Importer.ResourceTypes)
	c.Importer.ManualSources = uniqueTrimmed(c.Importer.ManualSources)
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
