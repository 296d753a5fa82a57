package config

import "reflect"

// ConfigDiff describes what changed between two loaded configs. Fields that
// can be hot-reloaded are broken out; everything else is summarised in
// RestartNeeded so the server can log what a restart would pick up.
type ConfigDiff struct {
	// LogLevelChanged is true when log.level differs. The server applies the
	// new level immediately through its slog.LevelVar.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged is true when any game tuning field differs. New values
	// apply to sessions created after the reload; running sessions keep the
	// tuning they started with.
	GameChanged bool
	NewGame     GameConfig

	// RestartNeeded lists config sections whose changes only take effect
	// after a server restart, in schema order.
	RestartNeeded []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GameChanged && len(d.RestartNeeded) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Game != new.Game {
		d.GameChanged = true
		d.NewGame = new.Game
	}

	if old.Server != new.Server {
		d.RestartNeeded = append(d.RestartNeeded, "server")
	}
	if old.Log.Format != new.Log.Format {
		d.RestartNeeded = append(d.RestartNeeded, "log.format")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartNeeded = append(d.RestartNeeded, "providers")
	}
	if old.Saves != new.Saves {
		d.RestartNeeded = append(d.RestartNeeded, "saves")
	}
	if old.Media != new.Media {
		d.RestartNeeded = append(d.RestartNeeded, "media")
	}
	if !reflect.DeepEqual(old.Tools, new.Tools) {
		d.RestartNeeded = append(d.RestartNeeded, "tools")
	}

	return d
}
