package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heliosrules/helios/services/engine/model"
)

// CacheType selects the C9 base-condition cache backend (spec §6 cache.type).
type CacheType string

const (
	CacheNoop     CacheType = "noop"
	CacheInMemory CacheType = "inmem"
	CacheExternal CacheType = "external"
)

// Defaults mirror spec §6's stated defaults and the teacher's
// DefaultMinCandidates/DefaultMaxCandidates-style named constants.
const (
	DefaultEligibleSetCacheSize          = 10_000
	DefaultIntersectionCardinalityThresh = 128
	DefaultCacheMaxSize                  = 100_000
	DefaultCacheTTLMillis                = 60_000
	DefaultCompressionThresholdBytes     = 4096
)

// EngineConfig is the full set of recognized options (spec §6
// "Configuration"), yaml-backed the way PreFilterConfig is. Immutable after
// loading; safe for concurrent use.
type EngineConfig struct {
	Cache CacheConfig `yaml:"cache"`

	// EligibleSetCacheSize bounds the model-scope cache mapping an eligible
	// bitmap identity to its union predicate-id set (spec §4.10 step 1).
	EligibleSetCacheSize int `yaml:"eligible_set_cache_size"`

	// DynamicFields lists fields the base-condition extractor must treat as
	// non-static even if every predicate on them happens to use a static
	// operator (spec §4.8): values expected to vary too often per event to
	// be worth caching on.
	DynamicFields []string `yaml:"dynamic_fields"`

	// IntersectionCardinalityThreshold is the posting-size cutoff between
	// the Matcher's two posting-walk strategies (spec §4.10 step 3).
	IntersectionCardinalityThreshold int `yaml:"intersection_cardinality_threshold"`

	// SelectionStrategy governs C11 (spec §4.11). Stored as the
	// configuration string (e.g. "ALL_MATCHES") and resolved through
	// model.ParseSelectionStrategy so the YAML surface matches the
	// compiler's own vocabulary.
	SelectionStrategy string `yaml:"selection_strategy"`

	// EnableBaseConditionCache turns the C9 lookup on or off; when false,
	// cmd/helios wires a NoopCache, so every lookup misses and the eligible
	// bitmap is recomputed for each event (spec §4.9).
	EnableBaseConditionCache bool `yaml:"enable_base_condition_cache"`
}

// CacheConfig configures the C9 base-condition cache backend.
type CacheConfig struct {
	Type                 CacheType `yaml:"type"`
	MaxSize              int       `yaml:"max_size"`
	TTLMillis            int64     `yaml:"ttl_ms"`
	CompressionThreshold int       `yaml:"compression_threshold"`
}

// TTL converts TTLMillis to a time.Duration for the cache package.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMillis) * time.Millisecond
}

// Default returns an EngineConfig populated with spec §6's stated defaults.
func Default() *EngineConfig {
	return &EngineConfig{
		Cache: CacheConfig{
			Type:                 CacheInMemory,
			MaxSize:              DefaultCacheMaxSize,
			TTLMillis:            DefaultCacheTTLMillis,
			CompressionThreshold: DefaultCompressionThresholdBytes,
		},
		EligibleSetCacheSize:             DefaultEligibleSetCacheSize,
		IntersectionCardinalityThreshold: DefaultIntersectionCardinalityThresh,
		SelectionStrategy:                model.AllMatches.String(),
		EnableBaseConditionCache:         true,
	}
}

// Strategy resolves SelectionStrategy to its model.SelectionStrategy value.
// Load has already validated the string, so the ok result is discarded here.
func (c *EngineConfig) Strategy() model.SelectionStrategy {
	s, _ := model.ParseSelectionStrategy(c.SelectionStrategy)
	return s
}

// Load parses YAML bytes into an EngineConfig, filling in spec §6 defaults
// for any zero-valued field and validating the result, mirroring
// LoadPreFilterConfig's parse-default-validate pipeline.
func Load(data []byte) (*EngineConfig, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parsing YAML: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *EngineConfig) {
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = CacheInMemory
	}
	if cfg.Cache.MaxSize <= 0 {
		cfg.Cache.MaxSize = DefaultCacheMaxSize
	}
	if cfg.Cache.TTLMillis <= 0 {
		cfg.Cache.TTLMillis = DefaultCacheTTLMillis
	}
	if cfg.Cache.CompressionThreshold <= 0 {
		cfg.Cache.CompressionThreshold = DefaultCompressionThresholdBytes
	}
	if cfg.EligibleSetCacheSize <= 0 {
		cfg.EligibleSetCacheSize = DefaultEligibleSetCacheSize
	}
	if cfg.IntersectionCardinalityThreshold <= 0 {
		cfg.IntersectionCardinalityThreshold = DefaultIntersectionCardinalityThresh
	}
	if cfg.SelectionStrategy == "" {
		cfg.SelectionStrategy = model.AllMatches.String()
	}
}

func validate(cfg *EngineConfig) error {
	switch cfg.Cache.Type {
	case CacheNoop, CacheInMemory, CacheExternal:
	default:
		return fmt.Errorf("cache.type: unrecognized value %q", cfg.Cache.Type)
	}

	if _, ok := model.ParseSelectionStrategy(cfg.SelectionStrategy); !ok {
		return fmt.Errorf("selection_strategy: unrecognized value %q", cfg.SelectionStrategy)
	}

	if cfg.EligibleSetCacheSize <= 0 {
		return fmt.Errorf("eligible_set_cache_size: must be positive, got %d", cfg.EligibleSetCacheSize)
	}
	if cfg.IntersectionCardinalityThreshold <= 0 {
		return fmt.Errorf("intersection_cardinality_threshold: must be positive, got %d", cfg.IntersectionCardinalityThreshold)
	}

	for i, f := range cfg.DynamicFields {
		if f == "" {
			return fmt.Errorf("dynamic_fields[%d]: must not be empty", i)
		}
	}

	return nil
}
