package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when any session setting changed, including the
	// wake and overlap policies. New sessions pick up the change.
	SessionChanged    bool
	WakePolicyChanged bool

	// TriggersChanged is set when the dialogue command table changed.
	TriggersChanged bool

	// RestartRequired lists sections whose changes only apply after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.TriggersChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.WakePolicyChanged = old.Session.WakePolicy != new.Session.WakePolicy
	}

	if !slices.Equal(old.Dialogue.Triggers, new.Dialogue.Triggers) {
		d.TriggersChanged = true
	}

	// The trigger table reloads live; the rest of the dialogue section does not.
	oldDialogue, newDialogue := old.Dialogue, new.Dialogue
	oldDialogue.Triggers, newDialogue.Triggers = nil, nil

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.api_key", old.Server.APIKey, new.Server.APIKey},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"providers", old.Providers, new.Providers},
		{"store", old.Store, new.Store},
		{"voices", old.Voices, new.Voices},
		{"extraction", old.Extraction, new.Extraction},
		{"dialogue", oldDialogue, newDialogue},
		{"appliance", old.Appliance, new.Appliance},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
