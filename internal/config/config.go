package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// IDSet is a set of marked chat IDs, encoded in YAML/flags as a
// comma-separated list.
type IDSet map[int64]bool

// Contains reports whether id is in the set. Nil sets contain nothing.
func (s IDSet) Contains(id int64) bool { return s[id] }

// UnmarshalYAML accepts either a sequence of integers or a comma-separated
// scalar, matching how the IDs appear in env vars.
func (s *IDSet) UnmarshalYAML(value *yaml.Node) error {
	out := IDSet{}
	switch value.Kind {
	case yaml.SequenceNode:
		var ids []int64
		if err := value.Decode(&ids); err != nil {
			return err
		}
		for _, id := range ids {
			out[id] = true
		}
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		parsed, err := ParseIDSet(raw)
		if err != nil {
			return err
		}
		out = parsed
	}
	*s = out
	return nil
}

// ParseIDSet parses a comma-separated list of signed integer chat IDs.
func ParseIDSet(raw string) (IDSet, error) {
	out := IDSet{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid chat id %q: %w", part, err)
		}
		out[id] = true
	}
	return out, nil
}

// FilterConfig holds the per-type include/exclude ID sets layered over the
// chat-type allow-list.
type FilterConfig struct {
	// ChatTypes enables whole categories: private, group, channel.
	// Empty means whitelist-only mode: only explicitly included IDs sync.
	ChatTypes []string `yaml:"chatTypes"`

	IncludeIDs         IDSet `yaml:"includeIds"`
	ExcludeIDs         IDSet `yaml:"excludeIds"`
	PrivateIncludeIDs  IDSet `yaml:"privateIncludeIds"`
	PrivateExcludeIDs  IDSet `yaml:"privateExcludeIds"`
	GroupsIncludeIDs   IDSet `yaml:"groupsIncludeIds"`
	GroupsExcludeIDs   IDSet `yaml:"groupsExcludeIds"`
	ChannelsIncludeIDs IDSet `yaml:"channelsIncludeIds"`
	ChannelsExcludeIDs IDSet `yaml:"channelsExcludeIds"`

	// PriorityIDs are synced before everything else.
	PriorityIDs IDSet `yaml:"priorityIds"`
}

// MediaConfig controls attachment downloading and deduplication.
type MediaConfig struct {
	// Download enables attachment downloading at all.
	Download bool `yaml:"download"`

	// Path is the root media directory. Per-chat reference directories and
	// the shared canonical directory live underneath it.
	Path string `yaml:"path"`

	// MaxSizeMB gates downloads: larger attachments are recorded as
	// metadata only and never fetched.
	MaxSizeMB int64 `yaml:"maxSizeMb"`

	// Deduplicate stores one canonical blob per content ID and gives each
	// chat a reference link instead of its own copy.
	Deduplicate bool `yaml:"deduplicate"`

	// SkipChatIDs lists chats whose media is never downloaded.
	SkipChatIDs IDSet `yaml:"skipChatIds"`

	// SkipDeleteExisting deletes already-downloaded media for chats in
	// SkipChatIDs (once per process).
	SkipDeleteExisting bool `yaml:"skipDeleteExisting"`

	// Verify runs the verification/redownload pass after each run.
	Verify bool `yaml:"verify"`
}

// MaxSizeBytes returns the download ceiling in bytes.
func (m MediaConfig) MaxSizeBytes() int64 { return m.MaxSizeMB * 1024 * 1024 }

// Config holds all configuration for the archive engine.
type Config struct {
	// Database
	DBKind string `yaml:"dbKind"` // "sqlite" or "postgres"
	DBURL  string `yaml:"dbUrl"`

	// Run schema migrations on startup.
	MigrateAtStart bool `yaml:"migrateAtStart"`

	// DB pool (postgres only)
	DBMaxOpenConns int `yaml:"dbMaxOpenConns"`
	DBMaxIdleConns int `yaml:"dbMaxIdleConns"`

	// Remote source backend.
	SourceKind string `yaml:"sourceKind"`
	// SourcePath points at backend-local data, e.g. the export directory
	// for the jsonexport source.
	SourcePath string `yaml:"sourcePath"`

	// Sync
	BatchSize          int           `yaml:"batchSize"`
	CheckpointInterval int           `yaml:"checkpointInterval"` // checkpoint every Nth batch
	SyncDeletionsEdits bool          `yaml:"syncDeletionsEdits"` // expensive full rescan
	AlbumWindow        time.Duration `yaml:"albumWindow"`
	MaxConsecutiveErrs int           `yaml:"maxConsecutiveErrs"` // abort chat after this many transient failures in a row

	Filter FilterConfig `yaml:"filter"`
	Media  MediaConfig  `yaml:"media"`

	// Scheduler
	SyncInterval   time.Duration `yaml:"syncInterval"`
	EnableListener bool          `yaml:"enableListener"`

	// Viewer HTTP server
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBKind:             "sqlite",
		DBURL:              "file:telvault.db",
		MigrateAtStart:     true,
		SourceKind:         "jsonexport",
		DBMaxOpenConns:     25,
		DBMaxIdleConns:     5,
		BatchSize:          100,
		CheckpointInterval: 1,
		AlbumWindow:        2 * time.Second,
		MaxConsecutiveErrs: 10,
		Filter: FilterConfig{
			ChatTypes: []string{"private", "group"},
		},
		Media: MediaConfig{
			Download:    true,
			Path:        "data/media",
			MaxSizeMB:   50,
			Deduplicate: true,
		},
		SyncInterval:      6 * time.Hour,
		Port:              8080,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// LoadFile overlays YAML config from path on top of c. Unknown keys fail
// so typos surface at startup instead of being silently ignored.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants that would otherwise fail mid-run.
func (c *Config) Validate() error {
	switch c.DBKind {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db kind %q (valid: sqlite, postgres)", c.DBKind)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", c.CheckpointInterval)
	}
	for _, t := range c.Filter.ChatTypes {
		switch t {
		case "private", "group", "channel":
		default:
			return fmt.Errorf("unknown chat type %q (valid: private, group, channel)", t)
		}
	}
	return nil
}
