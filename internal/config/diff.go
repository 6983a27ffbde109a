package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogueChanged is true when the company name or voice changed. New
	// calls pick the values up; live calls keep what they started with.
	DialogueChanged bool

	// KeywordsChanged is true when the STT keyword boosts changed. Applies
	// to STT streams opened after the reload.
	KeywordsChanged bool

	// CallLimitsChanged is true when calls.max_concurrent or
	// calls.session_timeout changed. These require a restart to apply.
	CallLimitsChanged bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DialogueChanged || d.KeywordsChanged || d.CallLimitsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes relevant to hot reload.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dialogue.CompanyName != new.Dialogue.CompanyName ||
		old.Dialogue.Language != new.Dialogue.Language ||
		old.Dialogue.Voice != new.Dialogue.Voice {
		d.DialogueChanged = true
	}

	if !slices.Equal(old.Dialogue.Keywords, new.Dialogue.Keywords) {
		d.KeywordsChanged = true
	}

	if old.Calls.MaxConcurrent != new.Calls.MaxConcurrent ||
		old.Calls.SessionTimeout != new.Calls.SessionTimeout ||
		old.Calls.DrainTimeout != new.Calls.DrainTimeout ||
		old.Calls.OutboundQueueSize != new.Calls.OutboundQueueSize {
		d.CallLimitsChanged = true
	}

	return d
}
