// Package config loads and hot-reloads the gateway's TOML configuration
// file: model selection, provider credentials, per-model overrides, and
// tool timeouts (spec §6 "Configuration").
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
)

// ModelsConfig holds the `[models]` table: primary/fallback selection,
// fallback behavior, and orchestrator loop tuning.
type ModelsConfig struct {
	PrimaryProvider     string `toml:"primary_provider"`
	PrimaryModel        string `toml:"primary_model"`
	FallbackProvider    string `toml:"fallback_provider"`
	FallbackModel       string `toml:"fallback_model"`
	AutoFallback        bool   `toml:"auto_fallback"`
	ErrorThreshold      int    `toml:"error_threshold"`
	RecoveryTimeSeconds int    `toml:"recovery_time_seconds"`
	MaxTurns            int    `toml:"max_turns"`
	SpeakTimeout        int    `toml:"speak_timeout"`
	Streaming           bool   `toml:"streaming"`
	SmartRouting        bool   `toml:"smart_routing"`
	ContextWindowTrim   bool   `toml:"context_window_trim"`

	// FallbackCooldowns overrides the default per-ErrorKind cooldown table
	// (internal/llm.cooldownSeconds), keyed by the ErrorKind string value
	// ("RATE_LIMIT", "SERVER_ERROR", ...).
	FallbackCooldowns map[string]int `toml:"fallback_cooldowns"`

	// FallbackChain overrides the tier-built default chain with an explicit
	// ordered provider/model list, each entry "provider/model".
	FallbackChain []string `toml:"fallback_chain"`
}

// ProviderConfig is one `[providers.<id>]` table.
type ProviderConfig struct {
	APIKey  string `toml:"apiKey"`
	BaseURL string `toml:"baseUrl"`
}

// ModelOverrideConfig is one `[model_overrides.<model_or_alias>]` table.
type ModelOverrideConfig struct {
	MaxTokens     int `toml:"max_tokens"`
	ContextWindow int `toml:"context_window"`
}

// Config is the full on-disk shape of the gateway's TOML config file.
type Config struct {
	Models         ModelsConfig                   `toml:"models"`
	Providers      map[string]ProviderConfig       `toml:"providers"`
	ModelOverrides map[string]ModelOverrideConfig  `toml:"model_overrides"`
	ToolTimeouts   map[string]int                  `toml:"tool_timeouts"`
}

// Default returns the built-in defaults every loaded config is layered on
// top of via mergo, so a sparse user config file is still complete.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			AutoFallback:        true,
			ErrorThreshold:      3,
			RecoveryTimeSeconds: 300,
			MaxTurns:            50,
			SpeakTimeout:        600,
			Streaming:           true,
			SmartRouting:        false,
			ContextWindowTrim:   true,
		},
		Providers:      map[string]ProviderConfig{},
		ModelOverrides: map[string]ModelOverrideConfig{},
		ToolTimeouts:   map[string]int{},
	}
}

// Load reads path as TOML and layers it over Default(). A missing file is
// not an error: Load returns the defaults unchanged, matching the
// "no config is a valid state" convention used by paths.ConfigPath.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var fileCfg Config
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := mergo.Merge(&fileCfg, cfg); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}
	return &fileCfg, nil
}

// Watcher reloads a config file on write and hands the freshly merged
// Config to OnReload. It exists for hot-reloadable settings (cooldown
// overrides, tool timeouts, smart-routing toggle, streaming and
// context-window-trim flags); callers that need
// structural fields (provider credentials, model selection at startup)
// should still read those once at boot.
type Watcher struct {
	path     string
	OnReload func(*Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path for changes and returns the Watcher.
// Call Close to stop. If path is empty, the returned Watcher has nothing
// to watch and Close is a no-op.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	w := &Watcher{path: path, OnReload: onReload}
	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.watcher = fw
	w.done = make(chan struct{})

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	// Editors often emit several events per save; debounce before reloading.
	var pending bool
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = true
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L_warn("config: watcher error", "error", err)
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			cfg, err := Load(w.path)
			if err != nil {
				logging.L_warn("config: reload failed, keeping previous config", "error", err)
				continue
			}
			logging.L_info("config: reloaded", "path", w.path)
			if w.OnReload != nil {
				w.OnReload(cfg)
			}
		}
	}
}

// Close stops the watcher, if one is running.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}
