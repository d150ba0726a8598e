package config

import "github.com/google/go-cmp/cmp"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// sections are reported individually; everything else lands in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CaptureChanged bool
	FillerChanged  bool
	PersonaChanged bool

	// RestartRequired names top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CaptureChanged && !d.FillerChanged &&
		!d.PersonaChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		CaptureChanged: !cmp.Equal(old.Capture, new.Capture),
		FillerChanged:  !cmp.Equal(old.Filler, new.Filler),
		PersonaChanged: !cmp.Equal(old.Persona, new.Persona),
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"wake", old.Wake, new.Wake},
		{"network", old.Network, new.Network},
		{"providers", old.Providers, new.Providers},
		{"history", old.History, new.History},
	} {
		if !cmp.Equal(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
