// Package config provides configuration loading and management for the
// simulation engine.
//
// The engine is config-first: the state store, memory bank, LLM port, and
// simulation knobs are defined in YAML and the runtime builds them
// automatically.
//
// Example config:
//
//	simulation:
//	  id: alpha-scenario
//	  tick_interval_ms: 1000
//	  perception_radius: 0.1
//
//	state_store:
//	  driver: sqlite
//	  database: ./alpha.db
//
//	llms:
//	  default:
//	    type: anthropic
//	    model: claude-3-7-sonnet-latest
//	    api_key: ${ANTHROPIC_API_KEY}
//
//	databases:
//	  memory:
//	    type: chroma
//	    host: localhost
//
//	embedders:
//	  default:
//	    type: hash
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure for the simulation engine.
type Config struct {
	// Simulation carries the simulation-wide knobs (§6): id, tick interval,
	// auto-run flag, perception radius.
	Simulation SimulationConfig `yaml:"simulation,omitempty"`

	// StateStore configures the spatial state store's SQL backend.
	StateStore DatabaseConfig `yaml:"state_store,omitempty"`

	// Memory configures the scoped memory bank: which vector database and
	// embedder back it, table name, and pruning policy.
	Memory MemoryBankConfig `yaml:"memory,omitempty"`

	// LLMs defines available LLM providers, referenced by name from
	// Simulation.LLM.
	LLMs map[string]LLMProviderConfig `yaml:"llms,omitempty"`

	// Databases defines available vector database providers, referenced by
	// name from Memory.Database.
	Databases map[string]DatabaseProviderConfig `yaml:"databases,omitempty"`

	// Embedders defines available embedding providers, referenced by name
	// from Memory.Embedder.
	Embedders map[string]EmbedderProviderConfig `yaml:"embedders,omitempty"`

	// Logger configures logging behavior.
	Logger *LoggerConfig `yaml:"logger,omitempty"`

	// RateLimiting configures rate limiting for LLM calls.
	RateLimiting *RateLimitConfig `yaml:"rate_limiting,omitempty"`
}

// SimulationConfig carries the simulation-wide knobs described in §6 of the
// engine's external interface: identity, pacing, and perception geometry.
type SimulationConfig struct {
	// ID namespaces the state store, memory bank, and event stream.
	ID string `yaml:"id,omitempty"`

	// LLM is the name of the entry in Config.LLMs used by agents and the
	// Archon for summarization.
	LLM string `yaml:"llm,omitempty"`

	// TickIntervalMS is the sleep between ticks in run_loop.
	TickIntervalMS int `yaml:"tick_interval_ms,omitempty"`

	// AutoRun starts the tick loop immediately once attached.
	AutoRun bool `yaml:"auto_run,omitempty"`

	// PerceptionRadius is the degree radius used to build perception
	// spheres around each actor (default 0.1°).
	PerceptionRadius float64 `yaml:"perception_radius,omitempty"`

	// MaxEvents bounds the event stream ring buffer.
	MaxEvents int `yaml:"max_events,omitempty"`
}

// MemoryBankConfig configures the scoped memory bank and its pruning policy.
type MemoryBankConfig struct {
	// Database is the name of the entry in Config.Databases backing the
	// memory bank's vector index.
	Database string `yaml:"database,omitempty"`

	// Embedder is the name of the entry in Config.Embedders used to
	// vectorize memory text.
	Embedder string `yaml:"embedder,omitempty"`

	// Table is the collection/table name for this simulation's memories.
	Table string `yaml:"table,omitempty"`

	// Pruning holds the decay/consolidation/hard-cap knobs from §4.2.
	Pruning PruningConfig `yaml:"pruning,omitempty"`
}

// PruningConfig mirrors the memory pruning policy described in §4.2.
type PruningConfig struct {
	DecayRate              float64 `yaml:"decay_rate,omitempty"`
	MinImportance          float64 `yaml:"min_importance,omitempty"`
	ConsolidationThreshold float64 `yaml:"consolidation_threshold,omitempty"`
	PruneInterval          int     `yaml:"prune_interval,omitempty"`
	MaxMemories            int     `yaml:"max_memories,omitempty"`
}

// SetDefaults applies default values to the pruning config.
func (c *PruningConfig) SetDefaults() {
	if c.DecayRate == 0 {
		c.DecayRate = 0.05
	}
	if c.MinImportance == 0 {
		c.MinImportance = 0.1
	}
	if c.ConsolidationThreshold == 0 {
		c.ConsolidationThreshold = 0.85
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = 100
	}
	if c.MaxMemories == 0 {
		c.MaxMemories = 10000
	}
}

// SetDefaults applies default values to the simulation config.
func (c *SimulationConfig) SetDefaults() {
	if c.ID == "" {
		c.ID = "default"
	}
	if c.LLM == "" {
		c.LLM = "default"
	}
	if c.TickIntervalMS == 0 {
		c.TickIntervalMS = 1000
	}
	if c.PerceptionRadius == 0 {
		c.PerceptionRadius = 0.1
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 10000
	}
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	c.Simulation.SetDefaults()
	c.Memory.Pruning.SetDefaults()

	if c.Memory.Table == "" {
		c.Memory.Table = c.Simulation.ID + "_memory"
	}
	if c.Memory.Database == "" {
		c.Memory.Database = "default"
	}
	if c.Memory.Embedder == "" {
		c.Memory.Embedder = "default"
	}

	if c.StateStore.Driver == "" {
		c.StateStore.Driver = "sqlite"
	}
	if c.StateStore.Database == "" {
		c.StateStore.Database = c.Simulation.ID + ".db"
	}
	c.StateStore.SetDefaults()

	if c.LLMs == nil {
		c.LLMs = make(map[string]LLMProviderConfig)
	}
	if len(c.LLMs) == 0 {
		c.LLMs["default"] = LLMProviderConfig{}
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseProviderConfig)
	}
	if len(c.Databases) == 0 {
		c.Databases["default"] = DatabaseProviderConfig{}
	}
	if c.Embedders == nil {
		c.Embedders = make(map[string]EmbedderProviderConfig)
	}
	if len(c.Embedders) == 0 {
		c.Embedders["default"] = EmbedderProviderConfig{}
	}

	for name, llm := range c.LLMs {
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	for name, db := range c.Databases {
		db.SetDefaults()
		c.Databases[name] = db
	}
	for name, emb := range c.Embedders {
		emb.SetDefaults()
		c.Embedders[name] = emb
	}

	if c.Logger == nil {
		c.Logger = &LoggerConfig{}
	}
	c.Logger.SetDefaults()

	if c.RateLimiting != nil {
		c.RateLimiting.SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Simulation.ID == "" {
		errs = append(errs, "simulation.id is required")
	}
	if c.Simulation.TickIntervalMS < 0 {
		errs = append(errs, "simulation.tick_interval_ms must be non-negative")
	}
	if c.Simulation.PerceptionRadius <= 0 {
		errs = append(errs, "simulation.perception_radius must be positive")
	}

	if err := c.StateStore.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("state_store: %v", err))
	}

	if c.Simulation.LLM != "" {
		if _, ok := c.LLMs[c.Simulation.LLM]; !ok {
			errs = append(errs, fmt.Sprintf("simulation references undefined llm %q", c.Simulation.LLM))
		}
	}
	if c.Memory.Database != "" {
		if _, ok := c.Databases[c.Memory.Database]; !ok {
			errs = append(errs, fmt.Sprintf("memory references undefined database %q", c.Memory.Database))
		}
	}
	if c.Memory.Embedder != "" {
		if _, ok := c.Embedders[c.Memory.Embedder]; !ok {
			errs = append(errs, fmt.Sprintf("memory references undefined embedder %q", c.Memory.Embedder))
		}
	}

	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("llm %q: %v", name, err))
		}
	}
	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("database %q: %v", name, err))
		}
	}
	for name, emb := range c.Embedders {
		if err := emb.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("embedder %q: %v", name, err))
		}
	}

	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("logger: %v", err))
		}
	}
	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("rate_limiting: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GetLLM returns the named LLM provider config.
func (c *Config) GetLLM(name string) (LLMProviderConfig, bool) {
	llm, ok := c.LLMs[name]
	return llm, ok
}

// GetDatabase returns the named vector database provider config.
func (c *Config) GetDatabase(name string) (DatabaseProviderConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}

// GetEmbedder returns the named embedder provider config.
func (c *Config) GetEmbedder(name string) (EmbedderProviderConfig, bool) {
	emb, ok := c.Embedders[name]
	return emb, ok
}
