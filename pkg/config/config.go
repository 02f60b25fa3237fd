// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all winmsa configuration.
type Config struct {
	Version int `yaml:"version"`

	Extraction ExtractionConfig `yaml:"extraction"`
	Windows    WindowsConfig    `yaml:"windows"`
	Pool       PoolConfig       `yaml:"pool"`
	Output     OutputConfig     `yaml:"output"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ExtractionConfig controls read filtering and masking.
type ExtractionConfig struct {
	MapQualityCutoff     int     `yaml:"map_quality_cutoff"`     // minimum MAPQ
	QualityCutoff        int     `yaml:"quality_cutoff"`         // minimum Phred base quality
	MaxAmbiguousFraction float64 `yaml:"max_ambiguous_fraction"` // N cap per row
	BreadthThreshold     float64 `yaml:"breadth_threshold"`      // minimum real-base coverage
	MinDepth             int     `yaml:"min_depth"`              // rows per window before warning
	WithInsertions       bool    `yaml:"with_insertions"`
	MaskStopCodons       bool    `yaml:"mask_stop_codons"`
}

// WindowsConfig controls the sliding-window plan.
type WindowsConfig struct {
	Size   int64 `yaml:"size"`
	Stride int64 `yaml:"stride"` // must stay a codon multiple
}

// PoolConfig controls the replica pool.
type PoolConfig struct {
	Replicas int    `yaml:"replicas"` // 0 = inline
	Mode     string `yaml:"mode"`     // local | proc
}

// OutputConfig controls where window files land.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// CheckpointConfig controls run-state persistence.
type CheckpointConfig struct {
	Backend   string `yaml:"backend"` // local | redis | s3
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	S3Region  string `yaml:"s3_region"`
}

// LedgerConfig controls the window-result ledger.
type LedgerConfig struct {
	Database string `yaml:"database"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// WatchConfig controls the SAM drop-directory watcher.
type WatchConfig struct {
	DebounceMillis int    `yaml:"debounce_millis"`
	Pattern        string `yaml:"pattern"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	winmsaDir := filepath.Join(homeDir, ".winmsa")

	return &Config{
		Version: 1,
		Extraction: ExtractionConfig{
			MapQualityCutoff:     20,
			QualityCutoff:        20,
			MaxAmbiguousFraction: 0.1,
			BreadthThreshold:     0.875,
			MinDepth:             10,
			WithInsertions:       false,
			MaskStopCodons:       true,
		},
		Windows: WindowsConfig{
			Size:   300,
			Stride: 30,
		},
		Pool: PoolConfig{
			Replicas: 0,
			Mode:     "local",
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Checkpoint: CheckpointConfig{
			Backend: "local",
			Dir:     filepath.Join(winmsaDir, "checkpoints"),
		},
		Ledger: LedgerConfig{
			Database: filepath.Join(winmsaDir, "winmsa.db"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
		Watch: WatchConfig{
			DebounceMillis: 500,
			Pattern:        "*.sam",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but log errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	// Ensure directories exist
	m.ensureDirs()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/winmsa/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".winmsa", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".winmsa.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Extraction
	if src.Extraction.MapQualityCutoff != 0 {
		m.config.Extraction.MapQualityCutoff = src.Extraction.MapQualityCutoff
	}
	if src.Extraction.QualityCutoff != 0 {
		m.config.Extraction.QualityCutoff = src.Extraction.QualityCutoff
	}
	if src.Extraction.MaxAmbiguousFraction != 0 {
		m.config.Extraction.MaxAmbiguousFraction = src.Extraction.MaxAmbiguousFraction
	}
	if src.Extraction.BreadthThreshold != 0 {
		m.config.Extraction.BreadthThreshold = src.Extraction.BreadthThreshold
	}
	if src.Extraction.MinDepth != 0 {
		m.config.Extraction.MinDepth = src.Extraction.MinDepth
	}

	// Windows
	if src.Windows.Size != 0 {
		m.config.Windows.Size = src.Windows.Size
	}
	if src.Windows.Stride != 0 {
		m.config.Windows.Stride = src.Windows.Stride
	}

	// Pool
	if src.Pool.Replicas != 0 {
		m.config.Pool.Replicas = src.Pool.Replicas
	}
	if src.Pool.Mode != "" {
		m.config.Pool.Mode = src.Pool.Mode
	}

	// Output
	if src.Output.Dir != "" {
		m.config.Output.Dir = src.Output.Dir
	}

	// Checkpoint
	if src.Checkpoint.Backend != "" {
		m.config.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Dir != "" {
		m.config.Checkpoint.Dir = src.Checkpoint.Dir
	}
	if src.Checkpoint.RedisAddr != "" {
		m.config.Checkpoint.RedisAddr = src.Checkpoint.RedisAddr
	}
	if src.Checkpoint.S3Bucket != "" {
		m.config.Checkpoint.S3Bucket = src.Checkpoint.S3Bucket
	}
	if src.Checkpoint.S3Prefix != "" {
		m.config.Checkpoint.S3Prefix = src.Checkpoint.S3Prefix
	}
	if src.Checkpoint.S3Region != "" {
		m.config.Checkpoint.S3Region = src.Checkpoint.S3Region
	}

	// Ledger
	if src.Ledger.Database != "" {
		m.config.Ledger.Database = src.Ledger.Database
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	// Watch
	if src.Watch.DebounceMillis != 0 {
		m.config.Watch.DebounceMillis = src.Watch.DebounceMillis
	}
	if src.Watch.Pattern != "" {
		m.config.Watch.Pattern = src.Watch.Pattern
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	// WINMSA_REPLICAS
	if v := os.Getenv("WINMSA_REPLICAS"); v != "" {
		var replicas int
		if _, err := fmt.Sscanf(v, "%d", &replicas); err == nil {
			m.config.Pool.Replicas = replicas
		}
	}

	// WINMSA_OUT_DIR
	if v := os.Getenv("WINMSA_OUT_DIR"); v != "" {
		m.config.Output.Dir = v
	}

	// WINMSA_LEDGER
	if v := os.Getenv("WINMSA_LEDGER"); v != "" {
		m.config.Ledger.Database = v
	}

	// WINMSA_REDIS_ADDR
	if v := os.Getenv("WINMSA_REDIS_ADDR"); v != "" {
		m.config.Checkpoint.RedisAddr = v
	}

	// WINMSA_S3_BUCKET
	if v := os.Getenv("WINMSA_S3_BUCKET"); v != "" {
		m.config.Checkpoint.S3Bucket = v
	}

	// WINMSA_OTLP_ENDPOINT
	if v := os.Getenv("WINMSA_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
	}
}

// ensureDirs creates necessary directories.
func (m *Manager) ensureDirs() {
	dirs := []string{
		filepath.Dir(m.config.Ledger.Database),
		m.config.Checkpoint.Dir,
	}

	for _, dir := range dirs {
		os.MkdirAll(dir, 0755)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".winmsa")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
