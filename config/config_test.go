package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
Network:
  device: cpu
  name: mnist_sgan
  dataset: MNIST
  data_path: ./data/mnist
  latent_dim: 10
  lr_D: 0.0002
  lr_G: 0.0002
  batch_size: 64
  n_steps: 16
  is_mem: false
  net_D_direct_input: true
  is_data_normlized: true
  from_checkpoint: false
  is_scheduler: true
  epochs: 100
  save_every: 5
`

func withKey(key, value string) string {
	return set(validYAML, key, value)
}

func set(doc, key, value string) string {
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+":") {
			lines[i] = "  " + key + ": " + value
			return strings.Join(lines, "\n")
		}
	}
	return doc + "  " + key + ": " + value + "\n"
}

func withoutKey(key string) string {
	var out []string
	for _, line := range strings.Split(validYAML, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), key+":") {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Name != "mnist_sgan" || cfg.Dataset != "MNIST" || cfg.LatentDim != 10 {
		t.Errorf("Unexpected required fields: %+v", cfg)
	}
	if cfg.LrD != 0.0002 || cfg.NSteps != 16 || !cfg.IsScheduler || !cfg.IsDataNormalized {
		t.Errorf("Unexpected training fields: %+v", cfg)
	}

	// Optional keys take their defaults
	if cfg.Seed != 1 || cfg.SampleCount != 21 || cfg.SampleCols != 7 {
		t.Errorf("Unexpected sampling defaults: seed=%d count=%d cols=%d", cfg.Seed, cfg.SampleCount, cfg.SampleCols)
	}
	if cfg.DecodeMethod != DecodeNone || cfg.Optimizer != "rmsprop" || cfg.CheckpointFormat != "proto" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if !cfg.DropLast || !cfg.Progress || !cfg.PlotScores || cfg.SchedulerTMax != 20 {
		t.Errorf("Unexpected boolean defaults: %+v", cfg)
	}

	n, err := cfg.CacheBytes()
	if err != nil || n != 512<<20 {
		t.Errorf("Expected 512MB cache, got %d (%v)", n, err)
	}
}

func TestParseOverridesOptional(t *testing.T) {
	cfg, err := Parse([]byte(validYAML + "  decode_method: mean\n  drop_last: false\n  cache_size: \"0\"\n  seed: 7\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.DecodeMethod != DecodeMean || cfg.DropLast || cfg.Seed != 7 {
		t.Errorf("Optional keys not applied: %+v", cfg)
	}
	if n, err := cfg.CacheBytes(); err != nil || n != 0 {
		t.Errorf("Expected disabled cache, got %d (%v)", n, err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing section", "Other:\n  name: x\n", "missing Network section"},
		{"section not a mapping", "Network: 3\n", "must be a mapping"},
		{"missing required key", withoutKey("lr_G"), "lr_G"},
		{"several missing keys", withoutKey("epochs") + "\n", "epochs"},
		{"unknown key", validYAML + "  lr_g: 0.1\n", "lr_g"},
		{"wrong type", withKey("batch_size", "many"), "many"},
		{"not yaml", "Network: [\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Expected parse error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"gpu device", withKey("device", "cuda:0"), "unsupported device"},
		{"unknown dataset", withKey("dataset", "ImageNet"), "unknown dataset"},
		{"unloadable dataset", withKey("dataset", "dvs_cifar10_64"), "unknown dataset"},
		{"zero batch", withKey("batch_size", "0"), "batch_size"},
		{"zero save_every", withKey("save_every", "0"), "save_every"},
		{"negative lr", withKey("lr_D", "-0.1"), "learning rates"},
		{"bad decode", withKey("decode_method", "max"), "decode_method"},
		{"bad optimizer", withKey("optimizer", "sgd"), "optimizer"},
		{"bad format", withKey("checkpoint_format", "onnx"), "checkpoint_format"},
		{"bad cache size", withKey("cache_size", "lots"), "cache_size"},
		{"negative max_samples", withKey("max_samples", "-1"), "max_samples"},
		{"name with separator", withKey("name", "a/b"), "path separators"},
		{"flattened multi-channel", set(withKey("net_D_direct_input", "false"), "dataset", "CelebA"), "single-channel"},
		{"resume without path", withKey("from_checkpoint", "true"), "checkpoint_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateFlattenedSingleChannel(t *testing.T) {
	cfg, err := Parse([]byte(withKey("net_D_direct_input", "false")))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Flattened MNIST should be valid, got %v", err)
	}

	cfg.Dataset = "dvs_mnist_28"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "single-channel") {
		t.Errorf("Expected single-channel error for flattened DVS input, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnist.yaml")
	doc := withKey("from_checkpoint", "true") + "  checkpoint_path: ./exp_results/checkpoints/mnist_sgan/mnist_sgan_5.pb\n  output_dir: " + dir + "\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.FromCheckpoint || !strings.HasSuffix(cfg.CheckpointPath, "mnist_sgan_5.pb") {
		t.Errorf("Unexpected checkpoint settings: %+v", cfg)
	}
	if cfg.LogPath() != filepath.Join(dir, "logs", "mnist_sgan.log") {
		t.Errorf("Unexpected log path %s", cfg.LogPath())
	}
	if cfg.ImageDir() != filepath.Join(dir, "images", "mnist_sgan") {
		t.Errorf("Unexpected image dir %s", cfg.ImageDir())
	}
	if cfg.CheckpointDir() != filepath.Join(dir, "checkpoints", "mnist_sgan") {
		t.Errorf("Unexpected checkpoint dir %s", cfg.CheckpointDir())
	}
	info, err := cfg.DatasetInfo()
	if err != nil || info.Channels != 1 || info.ImgSize != 28 {
		t.Errorf("Unexpected dataset info %+v (%v)", info, err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte(withKey("epochs", "0")), 0644)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "epochs") {
		t.Errorf("Expected validation error from Load, got %v", err)
	}
}

func TestRequiredKeysComplete(t *testing.T) {
	for _, key := range RequiredKeys {
		if !strings.Contains(validYAML, "  "+key+":") {
			t.Errorf("Fixture is missing required key %s", key)
		}
	}
}

func TestExampleConfigs(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "configs", "*.yaml"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("Expected example configs")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			if _, err := Load(path); err != nil {
				t.Errorf("Example config does not load: %v", err)
			}
		})
	}
}
