package app

import (
	"log/slog"

	"github.com/MrWong99/waketurn/internal/config"
	"github.com/MrWong99/waketurn/internal/utterance"
)

// ApplyConfig hot-applies the reloadable parts of next. It is the callback
// handed to [config.NewWatcher]. Changes to other sections are logged and
// take effect after a restart.
func (a *App) ApplyConfig(prev, next *config.Config) config.ConfigDiff {
	d := config.Diff(prev, next)

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.CaptureChanged {
		a.controller.SetRecorder(utterance.New(next.Capture.Utterance()))
		slog.Info("config: capture parameters changed")
	}
	if d.FillerChanged {
		a.controller.SetFiller(a.newFiller(next))
		slog.Info("config: filler changed", "enabled", next.Filler.IsEnabled())
	}
	if d.PersonaChanged {
		a.responder.SetPersona(next.Persona.Persona())
		a.responder.SetMaxHistory(next.Persona.MaxHistory)
		slog.Info("config: persona changed, conversation history cleared", "name", next.Persona.Persona().Name)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes need a restart to take effect", "sections", d.RestartRequired)
	}
	return d
}

// SlogLevel maps a config log level to slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
