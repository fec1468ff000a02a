// Package config provides configuration types and utilities for the simulation engine.
// This file contains the provider-level configuration types: how to reach an
// LLM, a vector database, and an embedding service.
package config

import (
	"fmt"
	"os"
)

// ============================================================================
// PROVIDER CONFIGURATIONS
// ============================================================================

// ProviderConfigs contains all provider configurations referenced by name
// from the simulation, LLM port, and memory bank sections of Config.
type ProviderConfigs struct {
	// LLM providers
	LLMs map[string]LLMProviderConfig `yaml:"llms,omitempty"`

	// Vector database providers backing the memory bank.
	Databases map[string]DatabaseProviderConfig `yaml:"databases,omitempty"`

	// Embedder providers used to vectorize memory content.
	Embedders map[string]EmbedderProviderConfig `yaml:"embedders,omitempty"`
}

// Validate implements Config.Validate for ProviderConfigs
func (c *ProviderConfigs) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("LLM provider '%s' validation failed: %w", name, err)
		}
	}
	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database provider '%s' validation failed: %w", name, err)
		}
	}
	for name, embedder := range c.Embedders {
		if err := embedder.Validate(); err != nil {
			return fmt.Errorf("embedder provider '%s' validation failed: %w", name, err)
		}
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for ProviderConfigs
func (c *ProviderConfigs) SetDefaults() {
	for name := range c.LLMs {
		llm := c.LLMs[name]
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	for name := range c.Databases {
		db := c.Databases[name]
		db.SetDefaults()
		c.Databases[name] = db
	}
	for name := range c.Embedders {
		embedder := c.Embedders[name]
		embedder.SetDefaults()
		c.Embedders[name] = embedder
	}
}

// LLMProviderConfig represents LLM provider configuration for the LLM port.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"`        // "openai", "anthropic", "gemini", "mock"
	Model       string  `yaml:"model"`       // Model name
	APIKey      string  `yaml:"api_key"`     // API key
	Host        string  `yaml:"host"`        // Custom endpoint host
	Temperature float64 `yaml:"temperature"` // Sampling temperature
	MaxTokens   int     `yaml:"max_tokens"`  // Max tokens per completion
	Timeout     int     `yaml:"timeout"`     // Request timeout in seconds
	MaxRetries  int     `yaml:"max_retries"` // Max retry attempts for rate limits (default: 5)
	RetryDelay  int     `yaml:"retry_delay"` // Base retry delay in seconds (default: 2, exponential backoff)

	// Structured output configuration (used for sample_choice constrained decoding).
	StructuredOutput *StructuredOutputConfig `yaml:"structured_output,omitempty"`
}

// StructuredOutputConfig represents configuration for structured output.
// Works across all providers (OpenAI, Anthropic, Gemini).
type StructuredOutputConfig struct {
	// Format: "json", "xml", "enum"
	Format string `yaml:"format,omitempty"`

	// Schema: JSON schema as YAML/JSON (for format="json")
	Schema map[string]interface{} `yaml:"schema,omitempty"`

	// Enum: List of allowed values (for format="enum"), used by sample_choice.
	Enum []string `yaml:"enum,omitempty"`

	// Prefill: Prefill string for Anthropic (optional, provider-specific)
	Prefill string `yaml:"prefill,omitempty"`
}

// Validate implements Config.Validate for LLMProviderConfig
func (c *LLMProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Type == "openai" && c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for LLMProviderConfig
func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "mock"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "gpt-4o"
		case "anthropic":
			c.Model = "claude-3-7-sonnet-latest"
		case "gemini":
			c.Model = "gemini-2.0-flash-exp"
		default:
			c.Model = "mock-model"
		}
	}
	if c.Host == "" {
		switch c.Type {
		case "openai":
			c.Host = "https://api.openai.com/v1"
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		case "gemini":
			c.Host = "https://generativelanguage.googleapis.com"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.APIKey == "" {
		switch c.Type {
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// DatabaseProviderConfig represents vector database provider configuration.
type DatabaseProviderConfig struct {
	Type     string `yaml:"type"`     // "chroma", "qdrant", "pinecone", "weaviate", "milvus"
	Host     string `yaml:"host"`     // Database host
	Port     int    `yaml:"port"`     // Database port
	APIKey   string `yaml:"api_key"`  // API key (optional)
	Timeout  int    `yaml:"timeout"`  // Connection timeout in seconds
	UseTLS   bool   `yaml:"use_tls"`  // Use TLS connection
	Insecure bool   `yaml:"insecure"` // Skip TLS verification
}

// Validate implements Config.Validate for DatabaseProviderConfig
func (c *DatabaseProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for DatabaseProviderConfig
func (c *DatabaseProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chroma"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		switch c.Type {
		case "qdrant":
			c.Port = 6333
		default:
			c.Port = 8000
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// EmbedderProviderConfig represents embedding provider configuration.
type EmbedderProviderConfig struct {
	Type       string `yaml:"type"`        // "openai", "cohere", "hash"
	Model      string `yaml:"model"`       // Model name
	Host       string `yaml:"host"`        // Custom endpoint host
	APIKey     string `yaml:"api_key"`     // API key
	Dimension  int    `yaml:"dimension"`   // Embedding dimension
	Timeout    int    `yaml:"timeout"`     // Request timeout in seconds
	MaxRetries int    `yaml:"max_retries"` // Max retry attempts
	BatchSize  int    `yaml:"batch_size"`  // Texts per embedding request
}

// Validate implements Config.Validate for EmbedderProviderConfig
func (c *EmbedderProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for EmbedderProviderConfig
func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		// hash is a deterministic, dependency-free embedder useful for
		// development and tests; production deployments set openai/cohere.
		c.Type = "hash"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		case "cohere":
			c.Model = "embed-english-v3.0"
		}
	}
	if c.Dimension == 0 {
		c.Dimension = 256
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.APIKey == "" {
		switch c.Type {
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case "cohere":
			c.APIKey = os.Getenv("COHERE_API_KEY")
		}
	}
}
