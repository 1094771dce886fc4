// Package config loads and validates the aiwatch configuration file.
//
// The file is YAML (or JSON) decoded strictly: unknown fields are
// rejected so typos fail at startup instead of silently disabling a
// source. Secrets may be supplied via environment variables instead of
// the file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envTelegramToken  = "AIWATCH_TELEGRAM_TOKEN"
	envTelegramChatID = "AIWATCH_TELEGRAM_CHAT_ID"
	envClassifierKey  = "AIWATCH_CLASSIFIER_API_KEY"
	envFeishuRelease  = "AIWATCH_FEISHU_RELEASE_WEBHOOK"
	envFeishuBlog     = "AIWATCH_FEISHU_BLOG_WEBHOOK"
)

type Config struct {
	// Timezone is the IANA zone digest and cleanup times are evaluated in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Telegram   TelegramConfig   `json:"telegram"`
	Feishu     FeishuConfig     `json:"feishu"`
	Classifier ClassifierConfig `json:"classifier"`
	Releases   ReleasesConfig   `json:"releases"`
	Blogs      BlogsConfig      `json:"blogs"`
	Sitemaps   SitemapsConfig   `json:"sitemaps"`
	Retention  RetentionConfig  `json:"retention"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path,omitempty"`
}

type TelegramConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	TopicsPath string `json:"topics_path,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type FeishuConfig struct {
	Enabled           bool   `json:"enabled,omitempty"`
	ReleaseWebhookURL string `json:"release_webhook_url,omitempty"`
	BlogWebhookURL    string `json:"blog_webhook_url,omitempty"`
}

type ClassifierConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	// Language is the BCP-47 tag translated titles/summaries are written in.
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type ReleasesConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	FetchInterval string `json:"fetch_interval,omitempty"`
	DigestAt      string `json:"digest_at,omitempty"` // HH:MM
	MaxPerVendor  int    `json:"max_per_vendor,omitempty"`

	// Vendor tiers control which importance levels notify immediately:
	// t0 pushes all, t1 high+medium, t2 high only. Unknown vendors are t2.
	VendorsT0 []string `json:"vendors_t0,omitempty"`
	VendorsT1 []string `json:"vendors_t1,omitempty"`
	VendorsT2 []string `json:"vendors_t2,omitempty"`
}

// AllVendors returns every configured vendor in tier order.
func (r ReleasesConfig) AllVendors() []string {
	out := make([]string, 0, len(r.VendorsT0)+len(r.VendorsT1)+len(r.VendorsT2))
	out = append(out, r.VendorsT0...)
	out = append(out, r.VendorsT1...)
	out = append(out, r.VendorsT2...)
	return out
}

type BlogsConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	OPMLPath      string `json:"opml_path,omitempty"`
	FetchInterval string `json:"fetch_interval,omitempty"`
	DigestAt      string `json:"digest_at,omitempty"` // HH:MM
	MaxPerFeed    int    `json:"max_per_feed,omitempty"`
}

type SitemapsConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Path          string `json:"path,omitempty"`
	FetchInterval string `json:"fetch_interval,omitempty"` // default for sources without one
}

type RetentionConfig struct {
	MaxAge     string `json:"max_age,omitempty"`     // e.g. "720h"
	CleanupDay string `json:"cleanup_day,omitempty"` // weekday name
	CleanupAt  string `json:"cleanup_at,omitempty"`  // HH:MM
}

// Load reads, strictly decodes, defaults, env-overrides and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("config: trailing data")
		}
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/aiwatch.db"
	}
	if c.Telegram.TopicsPath == "" {
		c.Telegram.TopicsPath = "data/telegram_topics.json"
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = 1
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "gpt-4o-mini"
	}
	if c.Classifier.Language == "" {
		c.Classifier.Language = "zh-CN"
	}
	if c.Classifier.Timeout == "" {
		c.Classifier.Timeout = "60s"
	}
	if c.Releases.FetchInterval == "" {
		c.Releases.FetchInterval = "30m"
	}
	if c.Releases.DigestAt == "" {
		c.Releases.DigestAt = "01:00"
	}
	if c.Releases.MaxPerVendor <= 0 {
		c.Releases.MaxPerVendor = 1
	}
	if c.Blogs.OPMLPath == "" {
		c.Blogs.OPMLPath = "config/blogs.opml"
	}
	if c.Blogs.FetchInterval == "" {
		c.Blogs.FetchInterval = "1h"
	}
	if c.Blogs.DigestAt == "" {
		c.Blogs.DigestAt = "02:00"
	}
	if c.Blogs.MaxPerFeed <= 0 {
		c.Blogs.MaxPerFeed = 1
	}
	if c.Sitemaps.Path == "" {
		c.Sitemaps.Path = "config/sitemaps.yaml"
	}
	if c.Sitemaps.FetchInterval == "" {
		c.Sitemaps.FetchInterval = "2h"
	}
	if c.Retention.MaxAge == "" {
		c.Retention.MaxAge = "720h" // 30 days
	}
	if c.Retention.CleanupDay == "" {
		c.Retention.CleanupDay = "sunday"
	}
	if c.Retention.CleanupAt == "" {
		c.Retention.CleanupAt = "03:00"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(envTelegramChatID); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv(envClassifierKey); v != "" {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv(envFeishuRelease); v != "" {
		c.Feishu.ReleaseWebhookURL = v
	}
	if v := os.Getenv(envFeishuBlog); v != "" {
		c.Feishu.BlogWebhookURL = v
	}
}

// Validate rejects configurations that would fail later at job
// registration time.
func (c *Config) Validate() error {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: invalid %q: %w", tz, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"releases.fetch_interval", c.Releases.FetchInterval},
		{"blogs.fetch_interval", c.Blogs.FetchInterval},
		{"sitemaps.fetch_interval", c.Sitemaps.FetchInterval},
		{"retention.max_age", c.Retention.MaxAge},
		{"classifier.timeout", c.Classifier.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"releases.digest_at", c.Releases.DigestAt},
		{"blogs.digest_at", c.Blogs.DigestAt},
		{"retention.cleanup_at", c.Retention.CleanupAt},
	} {
		if _, _, err := ParseHHMM(f.raw); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}
	if _, err := ParseWeekday(c.Retention.CleanupDay); err != nil {
		return fmt.Errorf("retention.cleanup_day: %w", err)
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token required when telegram.enabled")
	}
	if c.Telegram.Enabled && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id required when telegram.enabled")
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseHHMM parses a wall-clock "HH:MM" string.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ParseWeekday maps a weekday name (full or three-letter) to time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
}
