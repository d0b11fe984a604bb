package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level is applied live; every other change is listed in
// Deferred and takes effect at the next session start or restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Deferred names the top-level sections that changed, in file order.
	Deferred []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.Deferred) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare server settings without the log level, which is live.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"transcription", old.Transcription, new.Transcription},
		{"llm", old.LLM, new.LLM},
		{"store", old.Store, new.Store},
		{"embeddings", old.Embeddings, new.Embeddings},
		{"discord", old.Discord, new.Discord},
		{"mcp", old.MCP, new.MCP},
		{"archive", old.Archive, new.Archive},
		{"api_key", old.APIKey, new.APIKey},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.Deferred = append(d.Deferred, s.name)
		}
	}
	return d
}
