package domain

import "time"

// AnalyticsConfig controls windowed event counters.
type AnalyticsConfig struct {
	Enabled   bool
	Window    time.Duration // 1m, 5m, 1h
	Retention time.Duration // TTL, must be >= Window
}
