package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/licenseforge/foreman/pkg/log"
	"gopkg.in/yaml.v3"
)

const (
	// MainFile is the name of the main configuration file under the setup root.
	MainFile = "foreman.yaml"

	// KindDir is the directory under the setup root holding per-agent-kind
	// configuration, one subdirectory per kind: agents.d/<name>/<name>.conf
	KindDir = "agents.d"

	// DefaultPort is the control interface port used when neither the config
	// file nor the --port flag provides one.
	DefaultPort = 24693

	// DefaultCheckInterval drives the periodic agent/database update events.
	DefaultCheckInterval = 120 * time.Second

	// DefaultJobRetention is how long finished jobs stay in storage before
	// the scheduler purges them.
	DefaultJobRetention = 24 * time.Hour
)

// Duration wraps time.Duration so values like "120s" parse from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler so written configs stay readable.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HostEntry is one host declaration in the main config file.
type HostEntry struct {
	Address string `yaml:"address"`
	Dir     string `yaml:"dir"`
	Max     int    `yaml:"max"`
}

// File is the parsed main configuration file.
type File struct {
	Port          int                  `yaml:"port"`
	DataDir       string               `yaml:"data_dir"`
	AgentDir      string               `yaml:"agent_dir"`
	User          string               `yaml:"user"`
	Group         string               `yaml:"group"`
	CheckInterval Duration             `yaml:"check_interval"`
	JobRetention  Duration             `yaml:"job_retention"`
	MetricsAddr   string               `yaml:"metrics_addr"`
	Hosts         map[string]HostEntry `yaml:"hosts"`
}

// Load reads and validates the main configuration file under setupDir.
// A missing setup root or main file is fatal to startup, so it is returned
// as an error rather than logged and skipped.
func Load(setupDir string) (*File, error) {
	path := filepath.Join(setupDir, MainFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// JobRetention is defaulted before decoding so an explicit 0 survives
	// and disables the purge.
	cfg := File{JobRetention: Duration(DefaultJobRetention)}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = Duration(DefaultCheckInterval)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = setupDir
	}

	// The localhost entry always uses the configured agent directory.
	for id, h := range cfg.Hosts {
		if id == "localhost" || h.Address == "localhost" {
			h.Dir = cfg.AgentDir
			cfg.Hosts[id] = h
		}
	}

	return &cfg, nil
}

// KindFile is one per-agent-kind configuration file. The required "default"
// group carries the launch template; the optional special list currently
// recognizes EXCLUSIVE.
type KindFile struct {
	Default struct {
		Name    string   `yaml:"name"`
		Command string   `yaml:"command"`
		Max     int      `yaml:"max"`
		Special []string `yaml:"special"`
	} `yaml:"default"`
}

// Exclusive reports whether the special list contains EXCLUSIVE.
func (k *KindFile) Exclusive() bool {
	for _, s := range k.Default.Special {
		if s == "EXCLUSIVE" {
			return true
		}
	}
	return false
}

// LoadKinds scans setupDir/agents.d and parses every <name>/<name>.conf it
// finds. Malformed entries are logged at error level and skipped; the caller
// decides whether the surviving set is enough to start with.
func LoadKinds(setupDir string) ([]*KindFile, error) {
	logger := log.WithComponent("config")

	dir := filepath.Join(setupDir, KindDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent config directory %s: %w", dir, err)
	}

	var kinds []*KindFile
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name[0] == '.' {
			continue
		}

		path := filepath.Join(dir, name, name+".conf")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug().Str("path", path).Msg("No config file for agent directory")
			} else {
				logger.Error().Err(err).Str("path", path).Msg("Failed to read agent config")
			}
			continue
		}

		var kind KindFile
		if err := yaml.Unmarshal(data, &kind); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to parse agent config")
			continue
		}

		if kind.Default.Name == "" || kind.Default.Command == "" {
			logger.Error().Str("path", path).Msg("Agent config must have a default group with name and command keys")
			continue
		}

		logger.Debug().
			Str("name", kind.Default.Name).
			Str("command", kind.Default.Command).
			Int("max", kind.Default.Max).
			Bool("exclusive", kind.Exclusive()).
			Msg("Loaded agent config")
		kinds = append(kinds, &kind)
	}

	return kinds, nil
}
