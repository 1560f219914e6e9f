package app

import (
	"fmt"
	"time"

	"restock-monitor/internal/db"
	"restock-monitor/internal/messaging"
)

type MonitorConfig struct {
	// Interval between monitoring cycles, a go duration like "1m".
	Interval             string `json:"interval"`
	Workers              int    `json:"workers"`
	FetchTimeout         string `json:"fetch_timeout"`
	CycleDeadline        string `json:"cycle_deadline"`
	RestockConfirmations int    `json:"restock_confirmations"`
	RunOnStart           bool   `json:"run_on_start"`
	NotifyOutOfStock     bool   `json:"notify_out_of_stock"`
	DeliveryTimeout      string `json:"delivery_timeout"`
}

type FetcherConfig struct {
	// HostDelay is the minimum time between two requests to the same host.
	HostDelay   string `json:"host_delay"`
	SettleDelay string `json:"settle_delay"`
	MaxRenders  int64  `json:"max_renders"`
	ChromePath  string `json:"chrome_path"`
	// DumpDir, when set, receives every static response for debugging selectors.
	DumpDir string `json:"dump_dir"`
	// DisableRendering makes every dynamic product fail to fetch instead of
	// launching chrome.
	DisableRendering bool `json:"disable_rendering"`
}

type Config struct {
	Database   db.Config               `json:"database"`
	Port       int                     `json:"port"`
	AdminToken string                  `json:"admin_token"`
	Monitor    MonitorConfig           `json:"monitor"`
	Fetcher    FetcherConfig           `json:"fetcher"`
	Webhook    messaging.WebhookConfig `json:"webhook"`
	Smtp       messaging.SmtpConfig    `json:"smtp"`
}

// settings is Config with defaults applied and durations parsed.
type settings struct {
	interval             time.Duration
	workers              int
	fetchTimeout         time.Duration
	cycleDeadline        time.Duration
	restockConfirmations int
	deliveryTimeout      time.Duration
	hostDelay            time.Duration
	settleDelay          time.Duration
	maxRenders           int64
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s: must not be negative", name)
	}
	return parsed, nil
}

func (c Config) settings() (settings, error) {
	s := settings{
		workers:              c.Monitor.Workers,
		restockConfirmations: c.Monitor.RestockConfirmations,
		maxRenders:           c.Fetcher.MaxRenders,
	}
	if s.workers <= 0 {
		s.workers = 8
	}
	if s.restockConfirmations <= 0 {
		s.restockConfirmations = 1
	}
	if s.maxRenders <= 0 {
		s.maxRenders = 2
	}
	// renders are far heavier than plain requests, they never get the whole pool
	if s.workers > 1 && s.maxRenders >= int64(s.workers) {
		s.maxRenders = int64(s.workers - 1)
	}

	durations := []struct {
		name     string
		value    string
		fallback time.Duration
		out      *time.Duration
	}{
		{"monitor.interval", c.Monitor.Interval, time.Minute, &s.interval},
		{"monitor.fetch_timeout", c.Monitor.FetchTimeout, 20 * time.Second, &s.fetchTimeout},
		{"monitor.cycle_deadline", c.Monitor.CycleDeadline, 0, &s.cycleDeadline},
		{"monitor.delivery_timeout", c.Monitor.DeliveryTimeout, 10 * time.Second, &s.deliveryTimeout},
		{"fetcher.host_delay", c.Fetcher.HostDelay, 5 * time.Second, &s.hostDelay},
		{"fetcher.settle_delay", c.Fetcher.SettleDelay, 3 * time.Second, &s.settleDelay},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.name, d.value, d.fallback)
		if err != nil {
			return settings{}, err
		}
		*d.out = parsed
	}

	if s.interval == 0 {
		return settings{}, fmt.Errorf("monitor.interval: must be positive")
	}
	if s.fetchTimeout == 0 {
		return settings{}, fmt.Errorf("monitor.fetch_timeout: must be positive")
	}
	if s.deliveryTimeout == 0 {
		return settings{}, fmt.Errorf("monitor.delivery_timeout: must be positive")
	}
	if s.cycleDeadline == 0 {
		// leave some of the interval for notifications to finish
		s.cycleDeadline = s.interval * 3 / 4
	}
	return s, nil
}
