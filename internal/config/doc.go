// Package config loads, normalizes, and validates strato's TOML
// configuration. Operational tunables (payload inline limit, volume
// deadlines, poll schedules) live here rather than as code constants so
// deployments can match their provider's limits and observed latencies.
package config
