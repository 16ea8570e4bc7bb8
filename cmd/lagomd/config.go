package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/lagom/internal/coordinator"
	"github.com/danmuck/lagom/internal/enrich"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/server"
	"github.com/danmuck/lagom/internal/store"
)

const (
	enrichNone   = "none"
	enrichStatic = "static"
	enrichOpenAI = "openai"
)

// serviceConfig is everything lagomd needs to boot.
type serviceConfig struct {
	Server      server.Config
	Store       store.Config
	Engine      handshake.Config
	Coordinator coordinator.Config
	Maintenance coordinator.MaintenanceConfig
	// EnrichBackend is none, static, or openai.
	EnrichBackend string
	OpenAI        enrich.OpenAIConfig
	Fixture       string
	LogFile       string
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Server:        server.DefaultConfig(),
		Store:         store.DefaultConfig(),
		Engine:        handshake.DefaultConfig(),
		Coordinator:   coordinator.DefaultConfig(),
		Maintenance:   coordinator.DefaultMaintenanceConfig(),
		EnrichBackend: enrichStatic,
		OpenAI:        enrich.DefaultOpenAIConfig(),
	}
}

type fileConfig struct {
	ID          string   `toml:"id"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIToken    string   `toml:"api_token"`
	Fixture     string   `toml:"fixture"`
	Timezone    string   `toml:"timezone"`
	LogFile     string   `toml:"log_file"`

	Store struct {
		Backend       string `toml:"backend"`
		SQLitePath    string `toml:"sqlite_path"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		RedisPrefix   string `toml:"redis_prefix"`
	} `toml:"store"`

	Engine struct {
		HorizonDays     int     `toml:"horizon_days"`
		WakingStart     int     `toml:"waking_start"`
		WakingEnd       int     `toml:"waking_end"`
		FocusedStart    int     `toml:"focused_start"`
		ConcealFraction float64 `toml:"conceal_fraction"`
		JitterStep      string  `toml:"jitter_step"`
		MaxJitter       string  `toml:"max_jitter"`
		Cooldown        string  `toml:"cooldown"`
		CheckInitiator  bool    `toml:"check_initiator_calendar"`
	} `toml:"engine"`

	Retry struct {
		MaxAttempts  int     `toml:"max_attempts"`
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
		Concurrency  int     `toml:"concurrency"`
	} `toml:"retry"`

	Enrich struct {
		Backend           string `toml:"backend"`
		Model             string `toml:"model"`
		BaseURL           string `toml:"base_url"`
		RequestsPerMinute int    `toml:"requests_per_minute"`
		Timeout           string `toml:"timeout"`
	} `toml:"enrich"`

	Maintenance struct {
		Schedule  string `toml:"schedule"`
		Retention string `toml:"retention"`
	} `toml:"maintenance"`
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load lagomd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load lagomd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.Server.ID = id
		}
	}
	if meta.IsDefined("addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Server.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("api_token") {
		cfg.Server.APIToken = strings.TrimSpace(raw.APIToken)
	}
	if meta.IsDefined("fixture") {
		cfg.Fixture = strings.TrimSpace(raw.Fixture)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("timezone") {
		loc, err := time.LoadLocation(strings.TrimSpace(raw.Timezone))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse timezone: %w", err)
		}
		cfg.Engine.Generator.Location = loc
		cfg.Engine.Policy.Location = loc
	}

	if meta.IsDefined("store", "backend") {
		cfg.Store.Backend = strings.TrimSpace(raw.Store.Backend)
	}
	if meta.IsDefined("store", "sqlite_path") {
		cfg.Store.SQLitePath = strings.TrimSpace(raw.Store.SQLitePath)
	}
	if meta.IsDefined("store", "redis_addr") {
		cfg.Store.Redis.Addr = strings.TrimSpace(raw.Store.RedisAddr)
	}
	if meta.IsDefined("store", "redis_password") {
		cfg.Store.Redis.Password = raw.Store.RedisPassword
	}
	if meta.IsDefined("store", "redis_db") {
		cfg.Store.Redis.DB = raw.Store.RedisDB
	}
	if meta.IsDefined("store", "redis_prefix") {
		cfg.Store.Redis.Prefix = strings.TrimSpace(raw.Store.RedisPrefix)
	}

	if meta.IsDefined("engine", "horizon_days") {
		cfg.Engine.Generator.HorizonDays = raw.Engine.HorizonDays
	}
	if meta.IsDefined("engine", "waking_start") {
		cfg.Engine.Generator.WakingStart = raw.Engine.WakingStart
	}
	if meta.IsDefined("engine", "waking_end") {
		cfg.Engine.Generator.WakingEnd = raw.Engine.WakingEnd
	}
	if meta.IsDefined("engine", "focused_start") {
		cfg.Engine.Generator.FocusedStart = raw.Engine.FocusedStart
	}
	if meta.IsDefined("engine", "conceal_fraction") {
		cfg.Engine.Mask.ConcealFraction = raw.Engine.ConcealFraction
	}
	if err := setDuration(meta.IsDefined("engine", "jitter_step"), "engine.jitter_step", raw.Engine.JitterStep, &cfg.Engine.Mask.JitterStep); err != nil {
		return serviceConfig{}, err
	}
	if err := setDuration(meta.IsDefined("engine", "max_jitter"), "engine.max_jitter", raw.Engine.MaxJitter, &cfg.Engine.Mask.MaxJitter); err != nil {
		return serviceConfig{}, err
	}
	if err := setDuration(meta.IsDefined("engine", "cooldown"), "engine.cooldown", raw.Engine.Cooldown, &cfg.Engine.Policy.Cooldown); err != nil {
		return serviceConfig{}, err
	}
	if meta.IsDefined("engine", "check_initiator_calendar") {
		cfg.Engine.CheckInitiatorCalendar = raw.Engine.CheckInitiator
	}

	if meta.IsDefined("retry", "max_attempts") {
		cfg.Coordinator.Retry.MaxAttempts = raw.Retry.MaxAttempts
	}
	if err := setDuration(meta.IsDefined("retry", "initial_delay"), "retry.initial_delay", raw.Retry.InitialDelay, &cfg.Coordinator.Retry.Backoff.InitialDelay); err != nil {
		return serviceConfig{}, err
	}
	if meta.IsDefined("retry", "multiplier") {
		cfg.Coordinator.Retry.Backoff.Multiplier = raw.Retry.Multiplier
	}
	if err := setDuration(meta.IsDefined("retry", "max_delay"), "retry.max_delay", raw.Retry.MaxDelay, &cfg.Coordinator.Retry.Backoff.MaxDelay); err != nil {
		return serviceConfig{}, err
	}
	if meta.IsDefined("retry", "jitter") {
		cfg.Coordinator.Retry.Backoff.Jitter = raw.Retry.Jitter
	}
	if meta.IsDefined("retry", "concurrency") {
		cfg.Coordinator.Concurrency = raw.Retry.Concurrency
	}

	if meta.IsDefined("enrich", "backend") {
		cfg.EnrichBackend = strings.ToLower(strings.TrimSpace(raw.Enrich.Backend))
	}
	if meta.IsDefined("enrich", "model") {
		cfg.OpenAI.Model = strings.TrimSpace(raw.Enrich.Model)
	}
	if meta.IsDefined("enrich", "base_url") {
		cfg.OpenAI.BaseURL = strings.TrimSpace(raw.Enrich.BaseURL)
	}
	if meta.IsDefined("enrich", "requests_per_minute") {
		cfg.OpenAI.RequestsPerMinute = raw.Enrich.RequestsPerMinute
	}
	if err := setDuration(meta.IsDefined("enrich", "timeout"), "enrich.timeout", raw.Enrich.Timeout, &cfg.OpenAI.Timeout); err != nil {
		return serviceConfig{}, err
	}

	if meta.IsDefined("maintenance", "schedule") {
		cfg.Maintenance.Schedule = strings.TrimSpace(raw.Maintenance.Schedule)
	}
	if err := setDuration(meta.IsDefined("maintenance", "retention"), "maintenance.retention", raw.Maintenance.Retention, &cfg.Maintenance.Retention); err != nil {
		return serviceConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("lagomd config missing addr")
	}
	if err := c.Engine.Generator.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Mask.Validate(); err != nil {
		return err
	}
	switch c.EnrichBackend {
	case enrichNone, enrichStatic, enrichOpenAI:
	default:
		return fmt.Errorf("lagomd config: unknown enrich backend %q", c.EnrichBackend)
	}
	return nil
}

func setDuration(defined bool, key, raw string, dst *time.Duration) error {
	if !defined {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
