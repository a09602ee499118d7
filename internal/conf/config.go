// Package conf loads the engine's runtime configuration via viper, bound to
// a small settings struct and a handful of command-line flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings is the complete set of tunables for the stretch-playback engine.
type Settings struct {
	Debug bool // true to enable debug-level logging

	Log LogConfig

	Chunking struct {
		DurationSec float64 // nominal chunk length fed to the WSOLA stretcher
		OverlapSec  float64 // crossfade-region length shared by neighbouring chunks
	}

	Playback struct {
		CrossfadeSec             float64 // voice-to-voice crossfade duration
		DefaultTempo             float64
		MinTempo                 float64
		MaxTempo                 float64
		TempoDebounceMS          int
		LookaheadIntervalMS      int
		LookaheadThresholdSec    float64
		ProactiveThresholdSec    float64
		ResumeBufferSec          float64 // ready-ahead seconds required to leave Buffering
	}

	Scheduler struct {
		KeepAheadChunks      int
		KeepBehindChunks     int
		CancelDistanceChunks int
		MaxChunkRetries      int
	}

	Worker struct {
		PoolSize   int // 0 = auto-detect from internal/cpuspec
		MaxCrashes int
	}

	Server struct {
		Enabled bool
		Listen  string // address for the optional HTTP/SSE status server
	}
}

// LogConfig configures a single rotating log sink.
type LogConfig struct {
	Enabled     bool
	Path        string
	Rotation    RotationType
	MaxSizeMB   int
	RotationDay time.Weekday
}

// RotationType selects how a LogConfig rotates its backing file.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from (in priority order) flags bound via
// viper.BindPFlag, environment variables prefixed STRETCHPLAY_, a config
// file named stretchplay.yaml on the standard config paths, and finally the
// defaults below.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	validateSettings(settings)

	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("stretchplay")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("STRETCHPLAY")
	viper.AutomaticEnv()

	for _, path := range defaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil // defaults are sufficient; no config file required
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// defaultConfigPaths returns OS-appropriate directories to search for a
// stretchplay.yaml, current directory first.
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(home, "stretchplay"))
	}
	return paths
}

// Setting returns the current settings instance, or a zero-value default
// Settings if Load has not been called (useful for library callers that
// never touch the CLI/viper path).
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	if settingsInstance == nil {
		return defaultSettings()
	}
	return settingsInstance
}

// SetSettingsForTest installs s as the package-level settings instance.
// Intended for tests that exercise code paths reading conf.Setting().
func SetSettingsForTest(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}
