package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied immediately by the caller.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RealtimeChanged reports a change to the provider settings, voice or
	// instruction. The next session picks it up; a running session keeps the
	// settings it started with.
	RealtimeChanged bool

	// MaxDurationChanged applies to the next session.
	MaxDurationChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a process restart, in schema order.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Realtime != new.Realtime {
		d.RealtimeChanged = true
	}
	if old.Session.MaxDuration != new.Session.MaxDuration {
		d.MaxDurationChanged = true
	}

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !transcriptEqual(old.Transcript, new.Transcript) {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr {
		return false
	}
	if a.TLS == nil || b.TLS == nil {
		return a.TLS == b.TLS
	}
	return *a.TLS == *b.TLS
}

func transcriptEqual(a, b TranscriptConfig) bool {
	return a.OutputFile == b.OutputFile &&
		a.Postgres == b.Postgres &&
		a.Kafka.Topic == b.Kafka.Topic &&
		slices.Equal(a.Kafka.Brokers, b.Kafka.Brokers)
}
