package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	DeviceID       string   `toml:"device_id"`
	Transport      string   `toml:"transport"`
	BLEAddress     string   `toml:"ble_address"`
	BLEAdapter     string   `toml:"ble_adapter"`
	USBSerial      string   `toml:"usb_serial"`
	DeviceProfile  string   `toml:"device_profile"`
	PollInterval   string   `toml:"poll_interval"`
	RequestTimeout string   `toml:"request_timeout"`
	HTTPAddr       string   `toml:"http_addr"`
	CORSOrigins    []string `toml:"cors_origins"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisChannel   string   `toml:"redis_channel"`
	EventLogSize   int      `toml:"event_log_size"`
	BackoffInitial string   `toml:"backoff_initial"`
	BackoffMax     string   `toml:"backoff_max"`
	MaxReconnects  int      `toml:"max_reconnect_attempts"`
}

func loadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("load radctl config: %w", err)
	}

	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}

	if meta.IsDefined("transport") {
		t := strings.ToLower(strings.TrimSpace(raw.Transport))
		if t != TransportBLE && t != TransportUSB {
			return ServiceConfig{}, fmt.Errorf("%w: %q", ErrUnknownTransport, raw.Transport)
		}
		cfg.Transport = t
	}

	if meta.IsDefined("ble_address") {
		cfg.BLEAddress = strings.TrimSpace(raw.BLEAddress)
	}

	if meta.IsDefined("ble_adapter") {
		if a := strings.TrimSpace(raw.BLEAdapter); a != "" {
			cfg.BLEAdapter = a
		}
	}

	if meta.IsDefined("usb_serial") {
		cfg.USBSerial = strings.TrimSpace(raw.USBSerial)
	}

	if meta.IsDefined("device_profile") {
		cfg.DeviceProfile = strings.TrimSpace(raw.DeviceProfile)
	}

	if meta.IsDefined("poll_interval") {
		d, err := parseDuration("poll_interval", raw.PollInterval)
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.Session.PollInterval = d
	}

	if meta.IsDefined("request_timeout") {
		d, err := parseDuration("request_timeout", raw.RequestTimeout)
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.Session.RequestTimeout = d
	}

	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}

	if meta.IsDefined("redis_channel") {
		if ch := strings.TrimSpace(raw.RedisChannel); ch != "" {
			cfg.RedisChannel = ch
		}
	}

	if meta.IsDefined("event_log_size") {
		cfg.Session.EventLogSize = raw.EventLogSize
	}

	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.Session.Backoff.InitialDelay = d
	}

	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.Session.Backoff.MaxDelay = d
	}

	if meta.IsDefined("max_reconnect_attempts") {
		cfg.Session.MaxReconnectAttempts = raw.MaxReconnects
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
