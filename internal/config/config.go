// Package config loads TOML profiles: the state table, mic thresholds and
// mapping, groups, MIDI and hotkey bindings, and general settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Defaults mirrored in profiles that omit them.
const (
	DefaultFPSCap              = 30
	DefaultCacheMaxMB          = 512
	DefaultMicOpenThreshold    = 0.08
	DefaultMicCloseThreshold   = 0.05
	DefaultMicIntenseThreshold = 0.4
	DefaultMicHoldTimeMS       = 150
	DefaultSleepTimeoutSec     = 30
)

// StateConfig describes a single animation state.
type StateConfig struct {
	Name  string  `mapstructure:"name"`
	File  string  `mapstructure:"file"`
	Loop  bool    `mapstructure:"loop"`
	Speed float64 `mapstructure:"speed"`
	Group string  `mapstructure:"group"`

	TransitionIn            string `mapstructure:"transition_in"`
	TransitionInDurationMS  int    `mapstructure:"transition_in_duration_ms"`
	TransitionOut           string `mapstructure:"transition_out"`
	TransitionOutDurationMS int    `mapstructure:"transition_out_duration_ms"`
}

// TransitionConfig holds the global transition defaults.
type TransitionConfig struct {
	DefaultType       string `mapstructure:"default_type"`
	DefaultDurationMS int    `mapstructure:"default_duration_ms"`
}

// MicConfig holds capture device and hysteresis settings plus the default
// mic→state mapping.
type MicConfig struct {
	Device           string  `mapstructure:"device"`
	OpenThreshold    float64 `mapstructure:"open_threshold"`
	CloseThreshold   float64 `mapstructure:"close_threshold"`
	IntenseThreshold float64 `mapstructure:"intense_threshold"`
	HoldTimeMS       int     `mapstructure:"hold_time_ms"`
	IdleState        string  `mapstructure:"idle_state"`
	ActiveState      string  `mapstructure:"active_state"`
	IntenseState     string  `mapstructure:"intense_state"`
}

// MidiMappingConfig is a single MIDI binding.
type MidiMappingConfig struct {
	Device    string `mapstructure:"device"`
	EventType string `mapstructure:"event_type"` // note_on, control_change
	Channel   int    `mapstructure:"channel"`
	Note      int    `mapstructure:"note"`
	Action    string `mapstructure:"action"` // set_state, set_group, toggle_mic
	Target    string `mapstructure:"target"`
	Mode      string `mapstructure:"mode"` // momentary or toggle
}

// StateGroupConfig is a named {idle, active, intense} triple.
type StateGroupConfig struct {
	Name         string `mapstructure:"name"`
	IdleState    string `mapstructure:"idle_state"`
	ActiveState  string `mapstructure:"active_state"`
	IntenseState string `mapstructure:"intense_state"`
}

// HotkeyConfig is a single global hotkey binding.
type HotkeyConfig struct {
	Keys   string `mapstructure:"keys"`   // e.g. "ctrl+shift+1"
	Action string `mapstructure:"action"` // set_state, set_group
	Target string `mapstructure:"target"`
}

// GeneralConfig holds app-wide settings.
type GeneralConfig struct {
	ProfileName      string `mapstructure:"profile_name"`
	SleepTimeoutSec  int    `mapstructure:"sleep_timeout_seconds"`
	SleepState       string `mapstructure:"sleep_state"`
	FPSCap           int    `mapstructure:"fps_cap"`
	CacheMaxMB       int    `mapstructure:"cache_max_mb"`
	RemoteListenAddr string `mapstructure:"remote_listen_addr"` // empty disables
}

// Profile is a complete loaded configuration.
type Profile struct {
	General      GeneralConfig       `mapstructure:"general"`
	Mic          MicConfig           `mapstructure:"mic"`
	Transitions  TransitionConfig    `mapstructure:"transitions"`
	States       []StateConfig       `mapstructure:"states"`
	StateGroups  []StateGroupConfig  `mapstructure:"state_groups"`
	MidiMappings []MidiMappingConfig `mapstructure:"midi_mappings"`
	Hotkeys      []HotkeyConfig      `mapstructure:"hotkeys"`

	Path string `mapstructure:"-"` // where the profile was loaded from
}

// Default returns a profile with every knob at its default.
func Default() *Profile {
	return &Profile{
		General: GeneralConfig{
			ProfileName:     "Default",
			SleepTimeoutSec: DefaultSleepTimeoutSec,
			FPSCap:          DefaultFPSCap,
			CacheMaxMB:      DefaultCacheMaxMB,
		},
		Mic: MicConfig{
			Device:           "default",
			OpenThreshold:    DefaultMicOpenThreshold,
			CloseThreshold:   DefaultMicCloseThreshold,
			IntenseThreshold: DefaultMicIntenseThreshold,
			HoldTimeMS:       DefaultMicHoldTimeMS,
		},
		Transitions: TransitionConfig{
			DefaultType:       "cut",
			DefaultDurationMS: 80,
		},
	}
}

// Load reads a TOML profile from path, layering it over defaults.
func Load(path string) (*Profile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("NIXCHIRP")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	for i := range cfg.States {
		if cfg.States[i].Speed == 0 {
			cfg.States[i].Speed = 1.0
		}
	}
	cfg.Path = path
	return cfg, nil
}

// Dir returns the profile's containing directory (for asset resolution).
func (p *Profile) Dir() string {
	if p.Path == "" {
		return ""
	}
	return filepath.Dir(p.Path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.profile_name", "Default")
	v.SetDefault("general.sleep_timeout_seconds", DefaultSleepTimeoutSec)
	v.SetDefault("general.fps_cap", DefaultFPSCap)
	v.SetDefault("general.cache_max_mb", DefaultCacheMaxMB)
	v.SetDefault("mic.device", "default")
	v.SetDefault("mic.open_threshold", DefaultMicOpenThreshold)
	v.SetDefault("mic.close_threshold", DefaultMicCloseThreshold)
	v.SetDefault("mic.intense_threshold", DefaultMicIntenseThreshold)
	v.SetDefault("mic.hold_time_ms", DefaultMicHoldTimeMS)
	v.SetDefault("transitions.default_type", "cut")
	v.SetDefault("transitions.default_duration_ms", 80)
}

// ProfileDir returns the directory user profiles live in.
func ProfileDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "nixchirp", "profiles"), nil
}

// ListProfiles returns all .toml profiles in the profile directory.
func ListProfiles() ([]string, error) {
	dir, err := ProfileDir()
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// MostRecentProfile returns the most recently modified profile, or empty
// when none exist.
func MostRecentProfile() (string, error) {
	profiles, err := ListProfiles()
	if err != nil || len(profiles) == 0 {
		return "", err
	}
	latest := ""
	var latestMod int64
	for _, p := range profiles {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = p
			latestMod = mod
		}
	}
	return latest, nil
}
