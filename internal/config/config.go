package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the top-level pipeline configuration. Defaults are normative;
// the file exists so operators can tune timeouts and weights without
// rebuilding.
type Config struct {
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Validation  ValidationConfig  `yaml:"validation"`
	Autofix     AutofixConfig     `yaml:"autofix"`
	Cache       CacheConfig       `yaml:"cache"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
}

// InterpreterConfig locates the external language interpreter used for
// compile-only syntax checks.
type InterpreterConfig struct {
	PythonBin        string `yaml:"python_bin"`
	CompileTimeoutMs int    `yaml:"compile_timeout_ms"`
}

// CompileTimeout returns the compile check ceiling as a duration.
func (ic InterpreterConfig) CompileTimeout() time.Duration {
	return time.Duration(ic.CompileTimeoutMs) * time.Millisecond
}

// SandboxConfig bounds sandboxed candidate execution. TimeoutMs is the
// per-run default; MaxTimeoutMs caps what callers may request for heavier
// regenerate-and-test flows.
type SandboxConfig struct {
	TimeoutMs      int    `yaml:"timeout_ms"`
	MaxTimeoutMs   int    `yaml:"max_timeout_ms"`
	DataModulePath string `yaml:"data_module_path"` // appended to PYTHONPATH for historical-data access
}

// Timeout returns the default execution ceiling as a duration.
func (sc SandboxConfig) Timeout() time.Duration {
	return time.Duration(sc.TimeoutMs) * time.Millisecond
}

// MaxTimeout returns the largest execution ceiling callers may request.
func (sc SandboxConfig) MaxTimeout() time.Duration {
	return time.Duration(sc.MaxTimeoutMs) * time.Millisecond
}

// ValidationConfig carries layer weights and heuristic strictness.
type ValidationConfig struct {
	StructuralWeight float64 `yaml:"structural_weight"`
	SyntaxWeight     float64 `yaml:"syntax_weight"`
	LogicWeight      float64 `yaml:"logic_weight"`
	StrictMode       bool    `yaml:"strict_mode"`
	ProfilePath      string  `yaml:"profile_path"`
}

// AutofixConfig toggles automatic remediation between scoring passes.
type AutofixConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheConfig controls the validation-result cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// TTL returns the cache entry lifetime.
func (cc CacheConfig) TTL() time.Duration {
	return time.Duration(cc.TTLSeconds) * time.Second
}

// ServerConfig configures the read-mostly HTTP surface.
type ServerConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// DatabaseConfig configures optional run-history persistence. Disabled by
// default; requires explicit DSN when enabled.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	QueryTimeoutMs int    `yaml:"query_timeout_ms"`
}

// QueryTimeout returns the per-query ceiling as a duration.
func (dc DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(dc.QueryTimeoutMs) * time.Millisecond
}

// ArtifactsConfig controls where run artifacts are written.
type ArtifactsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join("config", "scanguard.yaml")
}

// Load reads pipeline configuration from file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &config, nil
}

// Save writes pipeline configuration to file.
func Save(config *Config, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetDefault returns the normative default configuration.
func GetDefault() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			PythonBin:        "python3",
			CompileTimeoutMs: 10000,
		},
		Sandbox: SandboxConfig{
			TimeoutMs:    30000,
			MaxTimeoutMs: 300000,
		},
		Validation: ValidationConfig{
			StructuralWeight: 0.4,
			SyntaxWeight:     0.3,
			LogicWeight:      0.3,
			StrictMode:       false,
		},
		Autofix: AutofixConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			TTLSeconds: 900,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateRPS:   5,
			RateBurst: 10,
		},
		Database: DatabaseConfig{
			Enabled:        false,
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			QueryTimeoutMs: 30000,
		},
		Artifacts: ArtifactsConfig{
			Enabled: true,
			Dir:     filepath.Join("out", "validate"),
		},
	}
}

// Validate checks the configuration for safety and consistency, returning a
// list of problems. Empty means valid.
func (c *Config) Validate() []string {
	var problems []string

	if c.Interpreter.PythonBin == "" {
		problems = append(problems, "interpreter: python_bin is required")
	}
	if c.Interpreter.CompileTimeoutMs <= 0 {
		problems = append(problems, fmt.Sprintf("interpreter: compile timeout %dms must be positive", c.Interpreter.CompileTimeoutMs))
	}

	if c.Sandbox.TimeoutMs <= 0 {
		problems = append(problems, fmt.Sprintf("sandbox: timeout %dms must be positive", c.Sandbox.TimeoutMs))
	}
	if c.Sandbox.MaxTimeoutMs < c.Sandbox.TimeoutMs {
		problems = append(problems, fmt.Sprintf("sandbox: max timeout %dms below default timeout %dms", c.Sandbox.MaxTimeoutMs, c.Sandbox.TimeoutMs))
	}

	weightSum := c.Validation.StructuralWeight + c.Validation.SyntaxWeight + c.Validation.LogicWeight
	if math.Abs(weightSum-1.0) > 0.001 {
		problems = append(problems, fmt.Sprintf("validation: layer weights sum to %.3f, must sum to 1.0", weightSum))
	}
	for name, w := range map[string]float64{
		"structural": c.Validation.StructuralWeight,
		"syntax":     c.Validation.SyntaxWeight,
		"logic":      c.Validation.LogicWeight,
	} {
		if w <= 0 {
			problems = append(problems, fmt.Sprintf("validation: %s weight %.3f must be positive", name, w))
		}
	}

	if c.Cache.TTLSeconds < 0 {
		problems = append(problems, fmt.Sprintf("cache: ttl %ds must not be negative", c.Cache.TTLSeconds))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server: port %d outside [1, 65535]", c.Server.Port))
	}
	if c.Server.RateRPS <= 0 {
		problems = append(problems, fmt.Sprintf("server: rate %.1f req/s must be positive", c.Server.RateRPS))
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		problems = append(problems, "database: dsn is required when persistence is enabled")
	}
	if c.Database.QueryTimeoutMs <= 0 {
		problems = append(problems, fmt.Sprintf("database: query timeout %dms must be positive", c.Database.QueryTimeoutMs))
	}

	if c.Artifacts.Enabled && c.Artifacts.Dir == "" {
		problems = append(problems, "artifacts: dir is required when artifacts are enabled")
	}

	return problems
}
