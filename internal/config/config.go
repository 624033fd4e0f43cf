// Package config loads and validates engine configuration. Every threshold
// and sampling limit used anywhere in the engine is a named field here with a
// tested default; nothing numeric is hard-coded at call sites.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Vault      VaultConfig      `yaml:"vault"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Trajectory TrajectoryConfig `yaml:"trajectory"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
}

// VaultConfig locates the note corpus.
type VaultConfig struct {
	Path string `yaml:"path"`
	// ContainerFile, when set, is split into derived virtual notes
	// (one per top-level heading) instead of being one giant note.
	ContainerFile string `yaml:"container_file"`
}

// StoreConfig holds database locations.
type StoreConfig struct {
	Path      string `yaml:"path"`       // session store (sqlite, one file)
	CachePath string `yaml:"cache_path"` // semantic cache (sqlite, separate file)
	// MemoryCacheSize bounds the in-process LRU tier of the semantic
	// cache. The on-disk tier is unbounded.
	MemoryCacheSize int `yaml:"memory_cache_size"`
}

// EmbeddingConfig controls the embedding provider.
type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"` // per-call bound on provider requests
	Retries int           `yaml:"retries"` // bounded retries before EmbeddingUnavailable surfaces
	// Workers bounds concurrent provider calls during a session run.
	Workers int `yaml:"workers"`
}

// ClusterConfig tunes the density-based clustering and labelling.
type ClusterConfig struct {
	// MinClusterSize is the smallest group that counts as a cluster;
	// anything smaller is noise. Corpora below this size degrade to
	// all-noise rather than erroring.
	MinClusterSize int `yaml:"min_cluster_size"`
	// Epsilon is the mutual-reachability distance cut for merging.
	Epsilon float64 `yaml:"epsilon"`
	// LabelTerms is how many weighted terms a cluster label carries.
	LabelTerms int `yaml:"label_terms"`
	// LabelDiversity rejects a candidate label term whose character
	// overlap with an already-chosen term exceeds this ratio.
	LabelDiversity float64 `yaml:"label_diversity"`
}

// TrajectoryConfig carries the empirically-tuned classification thresholds.
// The defaults mirror the values the analysis was tuned with; they are
// preserved as configuration rather than re-derived.
type TrajectoryConfig struct {
	VelocityWindow int `yaml:"velocity_window"` // sessions per velocity window

	ReversalSimilarityHigh float64 `yaml:"reversal_similarity_high"` // "currently close"
	ReversalSimilarityLow  float64 `yaml:"reversal_similarity_low"`  // "currently far"
	ReversalAlignment      float64 `yaml:"reversal_alignment"`       // |drift alignment| needed to flag

	CorrelationDecoupled float64 `yaml:"correlation_decoupled"` // |r| below => decoupled
	CorrelationOpposing  float64 `yaml:"correlation_opposing"`  // r below => opposing
	CorrelationStrong    float64 `yaml:"correlation_strong"`    // r above => strongly correlated

	// AgeToleranceDays is how far a note's creation date may sit past the
	// session date (clock skew) before composition errors out.
	AgeToleranceDays float64 `yaml:"age_tolerance_days"`
}

// AnalysisConfig governs the per-run behavior around detectors and sampling.
type AnalysisConfig struct {
	// SampleLimit caps how many notes feed pairwise analyses. Zero means
	// full-corpus coverage; a silent cap once dropped most of a large
	// corpus from analysis, so the default stays zero and is regression
	// tested.
	SampleLimit int `yaml:"sample_limit"`
	// DetectorTimeout bounds one detector invocation.
	DetectorTimeout time.Duration `yaml:"detector_timeout"`
	// DetectorMaxFailures disables a detector after this many consecutive
	// failures within one run.
	DetectorMaxFailures int `yaml:"detector_max_failures"`
	// HubCount / OrphanCount are the default k for hub and orphan queries.
	HubCount    int `yaml:"hub_count"`
	OrphanCount int `yaml:"orphan_count"`
	// DriftThreshold is the drift above which a note gets flagged in
	// suggestions.
	DriftThreshold float64 `yaml:"drift_threshold"`
}

// Default returns the tested default configuration.
func Default() Config {
	return Config{
		Vault: VaultConfig{Path: "vault"},
		Store: StoreConfig{
			Path:            "state/sessions.db",
			CachePath:       "state/semcache.db",
			MemoryCacheSize: 10000,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 30 * time.Second,
			Retries: 2,
			Workers: 4,
		},
		Cluster: ClusterConfig{
			MinClusterSize: 5,
			Epsilon:        0.35,
			LabelTerms:     3,
			LabelDiversity: 0.6,
		},
		Trajectory: TrajectoryConfig{
			VelocityWindow:         3,
			ReversalSimilarityHigh: 0.8,
			ReversalSimilarityLow:  0.3,
			ReversalAlignment:      0.5,
			CorrelationDecoupled:   0.3,
			CorrelationOpposing:    -0.5,
			CorrelationStrong:      0.7,
			AgeToleranceDays:       2,
		},
		Analysis: AnalysisConfig{
			SampleLimit:         0, // full corpus, always
			DetectorTimeout:     10 * time.Second,
			DetectorMaxFailures: 3,
			HubCount:            5,
			OrphanCount:         5,
			DriftThreshold:      0.4,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; env and flags layer on top at the CLI.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field ranges. Thresholds that classify correlations must
// stay in their meaningful bands or every detector downstream misfires.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Path, validation.Required),
		validation.Field(&c.Store.CachePath, validation.Required),
		validation.Field(&c.Store.MemoryCacheSize, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validation.ValidateStruct(&c.Embedding,
		validation.Field(&c.Embedding.BaseURL, validation.Required),
		validation.Field(&c.Embedding.Model, validation.Required),
		validation.Field(&c.Embedding.Retries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.Embedding.Workers, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("embedding config: %w", err)
	}
	if err := validation.ValidateStruct(&c.Cluster,
		validation.Field(&c.Cluster.MinClusterSize, validation.Min(2)),
		validation.Field(&c.Cluster.Epsilon, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.Cluster.LabelTerms, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("cluster config: %w", err)
	}
	t := &c.Trajectory
	if err := validation.ValidateStruct(t,
		validation.Field(&t.VelocityWindow, validation.Min(1)),
		validation.Field(&t.ReversalSimilarityHigh, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&t.ReversalSimilarityLow, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&t.ReversalAlignment, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&t.CorrelationDecoupled, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&t.CorrelationOpposing, validation.Min(-1.0), validation.Max(0.0)),
		validation.Field(&t.CorrelationStrong, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return fmt.Errorf("trajectory config: %w", err)
	}
	if t.ReversalSimilarityLow >= t.ReversalSimilarityHigh {
		return fmt.Errorf("trajectory config: reversal_similarity_low (%v) must be below reversal_similarity_high (%v)",
			t.ReversalSimilarityLow, t.ReversalSimilarityHigh)
	}
	if err := validation.ValidateStruct(&c.Analysis,
		validation.Field(&c.Analysis.SampleLimit, validation.Min(0)),
		validation.Field(&c.Analysis.DetectorMaxFailures, validation.Min(1)),
		validation.Field(&c.Analysis.HubCount, validation.Min(1)),
		validation.Field(&c.Analysis.OrphanCount, validation.Min(1)),
		validation.Field(&c.Analysis.DriftThreshold, validation.Min(0.0), validation.Max(2.0)),
	); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}
	return nil
}
