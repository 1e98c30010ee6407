// Package providers - ONNX Runtime session tuning.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Optimization contains the ONNX Runtime session settings that are independent of
// the execution provider.
type Optimization struct {
	// GraphOptimizationLevel is one of disable, basic, extended or all. Empty means
	// extended.
	GraphOptimizationLevel string `json:"graph_optimization_level" yaml:"graph_optimization_level"`
	// ExecutionMode is sequential or parallel. Empty means sequential.
	ExecutionMode string `json:"execution_mode" yaml:"execution_mode"`
	// IntraOpNumThreads sets threads for parallelizing ops. 0 uses the runtime default.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops. 0 uses the
	// runtime default.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	// DisableMemoryPattern turns off memory pattern planning.
	DisableMemoryPattern bool `json:"disable_memory_pattern" yaml:"disable_memory_pattern"`
	// DisableCPUMemArena turns off the CPU memory arena.
	DisableCPUMemArena bool `json:"disable_cpu_mem_arena" yaml:"disable_cpu_mem_arena"`
}

// DefaultOptimization returns the settings used when none are configured.
func DefaultOptimization() Optimization {
	return Optimization{
		GraphOptimizationLevel: "extended",
		ExecutionMode:          "sequential",
	}
}

// Validate checks the level and mode names and thread counts.
func (o Optimization) Validate() error {
	if _, err := parseGraphOptimizationLevel(o.GraphOptimizationLevel); err != nil {
		return err
	}
	if _, err := parseExecutionMode(o.ExecutionMode); err != nil {
		return err
	}
	if o.IntraOpNumThreads < 0 || o.InterOpNumThreads < 0 {
		return errors.Errorf(
			"thread counts must not be negative, got intra=%d inter=%d",
			o.IntraOpNumThreads, o.InterOpNumThreads,
		)
	}
	return nil
}

func parseGraphOptimizationLevel(s string) (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(s) {
	case "disable":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	}
	return 0, errors.Errorf("unknown graph optimization level %q", s)
}

func parseExecutionMode(s string) (ort.ExecutionMode, error) {
	switch strings.ToLower(s) {
	case "", "sequential":
		return ort.ExecutionModeSequential, nil
	case "parallel":
		return ort.ExecutionModeParallel, nil
	}
	return 0, errors.Errorf("unknown execution mode %q", s)
}

// newSessionOptions creates session options from the optimization settings and the
// execution provider. The caller destroys the returned options.
//
// Arguments:
//   - config: The optimization settings.
//   - provider: The execution provider to append.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: If any setting is rejected by the runtime.
func newSessionOptions(config Optimization, provider ExecutionProvider) (*ort.SessionOptions, error) {
	level, err := parseGraphOptimizationLevel(config.GraphOptimizationLevel)
	if err != nil {
		return nil, err
	}
	mode, err := parseExecutionMode(config.ExecutionMode)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"graph optimization level", func() error { return options.SetGraphOptimizationLevel(level) }},
		{"execution mode", func() error { return options.SetExecutionMode(mode) }},
		{"intra-op threads", func() error { return options.SetIntraOpNumThreads(config.IntraOpNumThreads) }},
		{"inter-op threads", func() error { return options.SetInterOpNumThreads(config.InterOpNumThreads) }},
		{"memory pattern", func() error { return options.SetMemPattern(!config.DisableMemoryPattern) }},
		{"cpu memory arena", func() error { return options.SetCpuMemArena(!config.DisableCPUMemArena) }},
		{"execution provider", func() error { return provider.Apply(options) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			options.Destroy()
			return nil, errors.Wrapf(err, "error setting %s", step.name)
		}
	}
	return options, nil
}
