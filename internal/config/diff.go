package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; anything else that changed
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StartMutedChanged bool
	NewStartMuted     bool

	CostChanged      bool
	NewCostPerMinute float64

	// RestartRequired names config sections whose change only takes effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StartMutedChanged || d.CostChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio.StartMuted != new.Audio.StartMuted {
		d.StartMutedChanged = true
		d.NewStartMuted = new.Audio.StartMuted
	}
	if old.CallLog.CostPerMinute != new.CallLog.CostPerMinute {
		d.CostChanged = true
		d.NewCostPerMinute = new.CallLog.CostPerMinute
	}

	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = append(d.RestartRequired, "server.metrics_addr")
	}
	if !sameAssistant(old.Assistant, new.Assistant) {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if !sameAudio(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.CallLog.PostgresDSN != new.CallLog.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "calllog.postgres_dsn")
	}
	return d
}

func sameAssistant(a, b AssistantConfig) bool {
	if a.BaseURL != b.BaseURL || a.AssistantID != b.AssistantID || a.OrganizationID != b.OrganizationID {
		return false
	}
	if len(a.Headers) != len(b.Headers) {
		return false
	}
	for k, v := range a.Headers {
		if bv, ok := b.Headers[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// sameAudio ignores StartMuted, which reloads live.
func sameAudio(a, b AudioConfig) bool {
	a.StartMuted, b.StartMuted = false, false
	if a.ToneEnabled() != b.ToneEnabled() {
		return false
	}
	a.FallbackTone, b.FallbackTone = nil, nil
	return a == b
}
