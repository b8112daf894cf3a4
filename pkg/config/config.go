package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Masked is the placeholder stored in config once a secret has moved into the secret store
const Masked = "<encrypted>"

// MaxPageLimit is the largest page the audit-log API serves
const MaxPageLimit = 5000

// DefaultLookback bounds the backfill of a source that has never been checkpointed (89 days)
const DefaultLookback = 7689600 * time.Second

// Config holds all configuration options for the audit poller
type Config struct {
	// Inputs are the named audit-log sources to poll
	Inputs []InputConfig `yaml:"inputs" json:"inputs"`

	// Fetch controls the single page request made per run
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Checkpoint storage
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Event sink
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Runner settings for multiple inputs
	Runner RunnerConfig `yaml:"runner" json:"runner"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// path is the file this config was read from, used when masking secrets
	path string
}

// InputConfig describes one named input instance
type InputConfig struct {
	Name      string `yaml:"name" json:"name"`
	Domain    string `yaml:"domain" json:"domain"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

// FetchConfig holds request configuration
type FetchConfig struct {
	PageLimit   int           `yaml:"page_limit" json:"page_limit"`
	Lookback    time.Duration `yaml:"lookback" json:"lookback"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	// RequestsPerMinute caps requests per domain across inputs; 0 disables
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CheckpointConfig holds checkpoint storage configuration
type CheckpointConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// SinkConfig selects and configures the event sink
type SinkConfig struct {
	Type string   `yaml:"type" json:"type"`
	Path string   `yaml:"path" json:"path"`
	S3   S3Config `yaml:"s3" json:"s3"`
}

// S3Config holds S3 sink settings
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// RunnerConfig holds settings for running several inputs
type RunnerConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			PageLimit:   5000,
			Lookback:    DefaultLookback,
			Timeout:     60 * time.Second,
			MaxAttempts: 1,
		},
		Checkpoint: CheckpointConfig{
			Dir: defaultCheckpointDir(),
		},
		Sink: SinkConfig{
			Type: "stdout",
			S3: S3Config{
				Prefix: "audit",
				Region: "us-east-1",
			},
		},
		Runner: RunnerConfig{
			Concurrency: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultCheckpointDir follows XDG_DATA_HOME on every platform, falling back to ~/.local/share
func defaultCheckpointDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "auditpoller", "checkpoints")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "checkpoints")
	}
	return filepath.Join(home, ".local", "share", "auditpoller", "checkpoints")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if dir := os.Getenv("AUDITPOLLER_CHECKPOINT_DIR"); dir != "" {
		c.Checkpoint.Dir = dir
	}
	if sinkType := os.Getenv("AUDITPOLLER_SINK_TYPE"); sinkType != "" {
		c.Sink.Type = sinkType
	}
	if logLevel := os.Getenv("AUDITPOLLER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if limit := os.Getenv("AUDITPOLLER_PAGE_LIMIT"); limit != "" {
		val, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("invalid AUDITPOLLER_PAGE_LIMIT %q: %w", limit, err)
		}
		c.Fetch.PageLimit = val
	}

	// Single-input shortcut: domain and keys from the environment apply to the
	// only configured input, or create one named "default"
	domain := os.Getenv("AUDITPOLLER_DOMAIN")
	accessKey := os.Getenv("AUDITPOLLER_ACCESS_KEY")
	secretKey := os.Getenv("AUDITPOLLER_SECRET_KEY")
	if domain == "" && accessKey == "" && secretKey == "" {
		return nil
	}
	if len(c.Inputs) > 1 {
		return errors.New("AUDITPOLLER_DOMAIN/ACCESS_KEY/SECRET_KEY require exactly one configured input")
	}
	if len(c.Inputs) == 0 {
		c.Inputs = append(c.Inputs, InputConfig{Name: "default"})
	}
	in := &c.Inputs[0]
	if domain != "" {
		in.Domain = domain
	}
	if accessKey != "" {
		in.AccessKey = accessKey
	}
	if secretKey != "" {
		in.SecretKey = secretKey
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.path = path

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".auditpoller.yaml",
		".auditpoller.yml",
		filepath.Join(home, ".config", "auditpoller", "config.yaml"),
		filepath.Join(home, ".config", "auditpoller", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Path returns the file the configuration was loaded from, or "" when none was found
func (c *Config) Path() string {
	return c.path
}

// Input returns the named input
func (c *Config) Input(name string) (*InputConfig, bool) {
	for i := range c.Inputs {
		if c.Inputs[i].Name == name {
			return &c.Inputs[i], true
		}
	}
	return nil, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if len(c.Inputs) == 0 {
		errs = append(errs, errors.New("at least one input is required"))
	}
	seen := make(map[string]bool)
	for i, in := range c.Inputs {
		if in.Name == "" {
			errs = append(errs, fmt.Errorf("input %d: name is required", i))
		} else if strings.ContainsAny(in.Name, `/\`) || in.Name == "." || in.Name == ".." {
			errs = append(errs, fmt.Errorf("input %q: name must be a single path element", in.Name))
		}
		if seen[in.Name] {
			errs = append(errs, fmt.Errorf("input %q: duplicate name", in.Name))
		}
		seen[in.Name] = true
		if in.Domain == "" {
			errs = append(errs, fmt.Errorf("input %q: domain is required", in.Name))
		}
		if in.AccessKey == "" {
			errs = append(errs, fmt.Errorf("input %q: access_key is required", in.Name))
		}
		if in.SecretKey == "" {
			errs = append(errs, fmt.Errorf("input %q: secret_key is required", in.Name))
		}
	}

	if c.Fetch.PageLimit <= 0 {
		errs = append(errs, errors.New("page limit must be positive"))
	} else if c.Fetch.PageLimit > MaxPageLimit {
		errs = append(errs, fmt.Errorf("page limit must not exceed %d", MaxPageLimit))
	}
	if c.Fetch.Lookback <= 0 {
		errs = append(errs, errors.New("lookback must be positive"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if c.Fetch.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute must not be negative"))
	}

	if c.Checkpoint.Dir == "" {
		errs = append(errs, errors.New("checkpoint directory is required"))
	}

	switch strings.ToLower(c.Sink.Type) {
	case "stdout":
	case "file":
		if c.Sink.Path == "" {
			errs = append(errs, errors.New("sink path is required for file sink"))
		}
	case "s3":
		if c.Sink.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for s3 sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid sink type %q", c.Sink.Type))
	}

	if c.Runner.Concurrency <= 0 {
		errs = append(errs, errors.New("runner concurrency must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MaskSecretsInFile sets the named secret keys of input to Masked in the
// config file at path and reports whether the file changed. Only those
// scalars are edited; comments and the rest of the file are kept. Keys that
// the file does not set are left alone.
func MaskSecretsInFile(path, input string, keys []string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false, nil
	}

	inputs := mappingValue(doc.Content[0], "inputs")
	if inputs == nil || inputs.Kind != yaml.SequenceNode {
		return false, nil
	}

	changed := false
	for _, item := range inputs.Content {
		name := mappingValue(item, "name")
		if name == nil || name.Value != input {
			continue
		}
		for _, k := range keys {
			if k != "access_key" && k != "secret_key" {
				continue
			}
			v := mappingValue(item, k)
			if v == nil || v.Kind != yaml.ScalarNode || v.Value == Masked {
				continue
			}
			v.Tag = "!!str"
			v.Value = Masked
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("failed to encode config: %w", err)
	}

	if err := writeFileAtomic(path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

// mappingValue returns the value node for key in a mapping node
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// writeFileAtomic replaces path through a uniquely named temp file in the same directory
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary config file: %w", err)
	}
	tmp := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to set config file mode: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// MaskSecrets replaces the named secret fields of an input with Masked.
// Keys are "access_key" and "secret_key".
func (c *Config) MaskSecrets(input string, keys []string) bool {
	in, ok := c.Input(input)
	if !ok {
		return false
	}
	changed := false
	for _, k := range keys {
		switch k {
		case "access_key":
			changed = changed || in.AccessKey != Masked
			in.AccessKey = Masked
		case "secret_key":
			changed = changed || in.SecretKey != Masked
			in.SecretKey = Masked
		}
	}
	return changed
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if dir, ok := flags["checkpoint-dir"].(string); ok && dir != "" {
		c.Checkpoint.Dir = dir
	}
	if sinkType, ok := flags["sink"].(string); ok && sinkType != "" {
		c.Sink.Type = sinkType
	}
	if sinkPath, ok := flags["sink-path"].(string); ok && sinkPath != "" {
		c.Sink.Path = sinkPath
	}
	if limit, ok := flags["page-limit"].(int); ok && limit > 0 {
		c.Fetch.PageLimit = limit
	}
	if concurrency, ok := flags["concurrency"].(int); ok && concurrency > 0 {
		c.Runner.Concurrency = concurrency
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".auditpoller.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
