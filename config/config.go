// Package config loads the YAML description of a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/spiking-gan/models"
	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/vision/dataset"
)

// Section is the top-level mapping holding the run configuration
const Section = "Network"

// Decode methods for turning sampled sequences into images
const (
	DecodeNone = "none"
	DecodeMean = "mean"
	DecodeLast = "last"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Device           string  `yaml:"device"`
	Name             string  `yaml:"name"`
	Dataset          string  `yaml:"dataset"`
	DataPath         string  `yaml:"data_path"`
	LatentDim        int     `yaml:"latent_dim"`
	LrD              float64 `yaml:"lr_D"`
	LrG              float64 `yaml:"lr_G"`
	BatchSize        int     `yaml:"batch_size"`
	NSteps           int     `yaml:"n_steps"`
	IsMem            bool    `yaml:"is_mem"`
	NetDDirectInput  bool    `yaml:"net_D_direct_input"`
	IsDataNormalized bool    `yaml:"is_data_normlized"`
	FromCheckpoint   bool    `yaml:"from_checkpoint"`
	CheckpointPath   string  `yaml:"checkpoint_path"`
	IsScheduler      bool    `yaml:"is_scheduler"`
	Epochs           int     `yaml:"epochs"`
	SaveEvery        int     `yaml:"save_every"`

	Seed             int64  `yaml:"seed"`
	SampleCount      int    `yaml:"sample_count"`
	SampleCols       int    `yaml:"sample_cols"`
	DecodeMethod     string `yaml:"decode_method"`
	SchedulerTMax    int    `yaml:"scheduler_t_max"`
	Optimizer        string `yaml:"optimizer"`
	CheckpointFormat string `yaml:"checkpoint_format"`
	OutputDir        string `yaml:"output_dir"`
	CacheSize        string `yaml:"cache_size"`
	MaxSamples       int    `yaml:"max_samples"`
	DropLast         bool   `yaml:"drop_last"`
	Progress         bool   `yaml:"progress"`
	PlotScores       bool   `yaml:"plot_scores"`
}

// RequiredKeys lists the keys every configuration must set
var RequiredKeys = []string{
	"device", "name", "dataset", "data_path", "latent_dim", "lr_D", "lr_G",
	"batch_size", "n_steps", "is_mem", "net_D_direct_input", "is_data_normlized",
	"from_checkpoint", "is_scheduler", "epochs", "save_every",
}

// Default returns a Config holding the default of every optional key
func Default() *Config {
	return &Config{
		Seed:             1,
		SampleCount:      21,
		SampleCols:       7,
		DecodeMethod:     DecodeNone,
		SchedulerTMax:    20,
		Optimizer:        "rmsprop",
		CheckpointFormat: "proto",
		OutputDir:        "./exp_results",
		CacheSize:        "512MB",
		DropLast:         true,
		Progress:         true,
		PlotScores:       true,
	}
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes the Network section of a YAML document without validating
// the values.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	section, err := findSection(&doc)
	if err != nil {
		return nil, err
	}
	if missing := missingKeys(section); len(missing) > 0 {
		return nil, fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}

	wrapper := struct {
		Network *Config `yaml:"Network"`
	}{Network: Default()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wrapper); err != nil {
		return nil, err
	}
	return wrapper.Network, nil
}

func findSection(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == Section {
			value := root.Content[i+1]
			if value.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("%s must be a mapping", Section)
			}
			return value, nil
		}
	}
	return nil, fmt.Errorf("missing %s section", Section)
}

func missingKeys(section *yaml.Node) []string {
	present := make(map[string]bool, len(section.Content)/2)
	for i := 0; i+1 < len(section.Content); i += 2 {
		present[section.Content[i].Value] = true
	}

	var missing []string
	for _, key := range RequiredKeys {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	return missing
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := tensor.ParseDevice(c.Device); err != nil {
		return err
	}
	if c.Name == "" {
		return errors.New("name must be set")
	}
	if strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", c.Name)
	}
	info, err := dataset.Lookup(c.Dataset)
	if err != nil {
		return err
	}
	if !models.Supported(info.Name) {
		return fmt.Errorf("no generator/discriminator pair for dataset %s", info.Name)
	}
	if c.DataPath == "" {
		return errors.New("data_path must be set")
	}

	for _, f := range []struct {
		name  string
		value int
	}{
		{"latent_dim", c.LatentDim},
		{"batch_size", c.BatchSize},
		{"n_steps", c.NSteps},
		{"epochs", c.Epochs},
		{"save_every", c.SaveEvery},
		{"sample_count", c.SampleCount},
		{"sample_cols", c.SampleCols},
		{"scheduler_t_max", c.SchedulerTMax},
	} {
		if f.value <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", f.name, f.value)
		}
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("max_samples must be >= 0 (got %d)", c.MaxSamples)
	}
	if c.LrD <= 0 || c.LrG <= 0 {
		return fmt.Errorf("learning rates must be > 0 (got lr_D=%g, lr_G=%g)", c.LrD, c.LrG)
	}

	switch c.DecodeMethod {
	case DecodeNone, DecodeMean, DecodeLast:
	default:
		return fmt.Errorf("unknown decode_method %q (want none, mean or last)", c.DecodeMethod)
	}
	switch c.Optimizer {
	case "rmsprop", "adam":
	default:
		return fmt.Errorf("unknown optimizer %q (want rmsprop or adam)", c.Optimizer)
	}
	switch c.CheckpointFormat {
	case "json", "proto":
	default:
		return fmt.Errorf("unknown checkpoint_format %q (want json or proto)", c.CheckpointFormat)
	}
	if _, err := c.CacheBytes(); err != nil {
		return err
	}

	if !c.NetDDirectInput && info.Channels != 1 {
		return fmt.Errorf("net_D_direct_input=false flattens samples to img_size^2 values and needs a single-channel dataset; %s has %d channels", info.Name, info.Channels)
	}
	if c.FromCheckpoint && c.CheckpointPath == "" {
		return errors.New("checkpoint_path must be set when from_checkpoint is true")
	}
	return nil
}

// CacheBytes returns the sample cache budget in bytes
func (c *Config) CacheBytes() (uint64, error) {
	s := strings.TrimSpace(c.CacheSize)
	if s == "" || s == "0" {
		return 0, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("cache_size %q: %w", c.CacheSize, err)
	}
	return size.Bytes(), nil
}

// DatasetInfo returns the registry entry of the configured dataset
func (c *Config) DatasetInfo() (dataset.Info, error) {
	return dataset.Lookup(c.Dataset)
}

// LogPath returns {output_dir}/logs/{name}.log
func (c *Config) LogPath() string {
	return filepath.Join(c.OutputDir, "logs", c.Name+".log")
}

// ImageDir returns {output_dir}/images/{name}
func (c *Config) ImageDir() string {
	return filepath.Join(c.OutputDir, "images", c.Name)
}

// CheckpointDir returns {output_dir}/checkpoints/{name}
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.OutputDir, "checkpoints", c.Name)
}
