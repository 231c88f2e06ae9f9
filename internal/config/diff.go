package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// and the VAD threshold can be applied to a running process; every other
// change is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADThresholdChanged bool
	NewVADThreshold     float64

	// RestartRequired lists the top-level sections with changes that only
	// take effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio.VADThreshold != new.Audio.VADThreshold {
		d.VADThresholdChanged = true
		d.NewVADThreshold = new.Audio.VADThreshold
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sessionEqual(old.Session, new.Session) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Transport != new.Transport {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	oldAudio, newAudio := old.Audio, new.Audio
	oldAudio.VADThreshold, newAudio.VADThreshold = 0, 0
	if oldAudio != newAudio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}

// sessionEqual compares session sections. The fallback list is compared
// element-wise so that nil and empty lists are equal.
func sessionEqual(a, b SessionConfig) bool {
	if !slices.Equal(a.CredentialFallbackURLs, b.CredentialFallbackURLs) {
		return false
	}
	a.CredentialFallbackURLs, b.CredentialFallbackURLs = nil, nil
	return reflect.DeepEqual(a, b)
}
