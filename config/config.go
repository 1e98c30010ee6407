// Package config - YAML configuration of the segmentation CLI.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/logger"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/nvr-ai/go-seg/models/postprocess"
)

// Config represents the application configuration.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	LabelsPath  string            `yaml:"labels_path"`
	Postprocess PostprocessConfig `yaml:"postprocess"`
	Log         logger.Config     `yaml:"log,omitempty"`
}

// EngineConfig contains the model and runtime configuration.
type EngineConfig struct {
	// ModelPath is the ONNX model file.
	ModelPath string `yaml:"model_path"`
	// SharedLibraryPath overrides the platform's onnxruntime library location.
	SharedLibraryPath string `yaml:"shared_library_path"`
	// Backend is cpu, cuda, coreml or openvino.
	Backend string `yaml:"backend"`
	// Layout holds input size, batch, detection capacity and tensor names.
	Layout model.Layout `yaml:",inline"`

	Optimization providers.Optimization    `yaml:"optimization"`
	CUDA         providers.CUDAOptions     `yaml:"cuda"`
	CoreML       providers.CoreMLOptions   `yaml:"coreml"`
	OpenVINO     providers.OpenVINOOptions `yaml:"openvino"`
}

// PostprocessConfig contains detection parsing and mask settings.
type PostprocessConfig struct {
	// ConfidenceThreshold drops detections at or below it. 0 selects the default.
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	// IoUThreshold suppresses same-class boxes overlapping more than it. 0 selects
	// the default.
	IoUThreshold float32 `yaml:"iou_threshold"`
	// MaxDetections caps parsed records below the engine capacity. 0 means capacity.
	MaxDetections int `yaml:"max_detections"`
	// Workers is the number of class groups suppressed in parallel.
	Workers int `yaml:"workers"`
	// SkipMasks disables mask decoding.
	SkipMasks bool `yaml:"skip_masks"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load loads configuration from a YAML file.
//
// Arguments:
//   - path: The config file.
//
// Returns:
//   - *Config: The configuration with defaults applied.
//   - error: If the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults fills zero values.
func setDefaults(cfg *Config) {
	def := model.DefaultLayout()
	l := &cfg.Engine.Layout
	if l.InputWidth == 0 {
		l.InputWidth = def.InputWidth
	}
	if l.InputHeight == 0 {
		l.InputHeight = def.InputHeight
	}
	if l.Batch == 0 {
		l.Batch = def.Batch
	}
	if l.MaxDetections == 0 {
		l.MaxDetections = def.MaxDetections
	}
	if l.InputName == "" {
		l.InputName = def.InputName
	}
	if l.DetectionsName == "" {
		l.DetectionsName = def.DetectionsName
	}
	if l.PrototypesName == "" {
		l.PrototypesName = def.PrototypesName
	}

	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = string(providers.CPUProviderBackend)
	}
	defOpt := providers.DefaultOptimization()
	if cfg.Engine.Optimization.GraphOptimizationLevel == "" {
		cfg.Engine.Optimization.GraphOptimizationLevel = defOpt.GraphOptimizationLevel
	}
	if cfg.Engine.Optimization.ExecutionMode == "" {
		cfg.Engine.Optimization.ExecutionMode = defOpt.ExecutionMode
	}

	defNMS := postprocess.DefaultNMSConfig()
	if cfg.Postprocess.ConfidenceThreshold == 0 {
		cfg.Postprocess.ConfidenceThreshold = defNMS.ConfidenceThreshold
	}
	if cfg.Postprocess.IoUThreshold == 0 {
		cfg.Postprocess.IoUThreshold = defNMS.IoUThreshold
	}
	if cfg.Postprocess.Workers == 0 {
		cfg.Postprocess.Workers = defNMS.NumWorkers
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	add(c.Engine.Layout.Validate())
	add(c.Engine.Optimization.Validate())
	if _, err := providers.ParseBackend(c.Engine.Backend); err != nil {
		add(err)
	}
	if !c.Engine.OpenVINO.Precision.Valid() {
		add(errors.Errorf("unsupported OpenVINO precision %q", c.Engine.OpenVINO.Precision))
	}

	p := c.Postprocess
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		add(errors.Errorf("confidence_threshold %v outside [0,1]", p.ConfidenceThreshold))
	}
	if p.IoUThreshold < 0 || p.IoUThreshold > 1 {
		add(errors.Errorf("iou_threshold %v outside [0,1]", p.IoUThreshold))
	}
	if p.MaxDetections < 0 {
		add(errors.Errorf("max_detections %d is negative", p.MaxDetections))
	}
	if p.Workers < 0 {
		add(errors.Errorf("workers %d is negative", p.Workers))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		add(errors.Errorf("log format %q is neither json nor text", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NMSConfig returns the postprocess settings in the form the session expects.
func (c *Config) NMSConfig() postprocess.NMSConfig {
	return postprocess.NMSConfig{
		ConfidenceThreshold: c.Postprocess.ConfidenceThreshold,
		IoUThreshold:        c.Postprocess.IoUThreshold,
		MaxDetections:       c.Postprocess.MaxDetections,
		NumWorkers:          c.Postprocess.Workers,
	}
}

// Provider builds the execution provider selected by Backend.
func (e *EngineConfig) Provider() (providers.ExecutionProvider, error) {
	backend, err := providers.ParseBackend(e.Backend)
	if err != nil {
		return nil, err
	}

	var opts providers.ProviderOptions
	switch backend {
	case providers.CUDAProviderBackend:
		opts = e.CUDA
	case providers.CoreMLProviderBackend:
		opts = e.CoreML
	case providers.OpenVINOProviderBackend:
		opts = e.OpenVINO
	}
	return providers.NewProvider(backend, opts)
}

// ONNXEngineConfig returns the arguments for providers.NewONNXEngine.
func (e *EngineConfig) ONNXEngineConfig() providers.EngineConfig {
	return providers.EngineConfig{
		ModelPath:         e.ModelPath,
		SharedLibraryPath: e.SharedLibraryPath,
		Layout:            e.Layout,
		Optimization:      e.Optimization,
	}
}
