// Package providers - ONNX Runtime execution providers and the ONNX engine.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the provider's backend name.
	Backend() ProviderBackend
	// Options returns the provider's options.
	Options() ProviderOptions
	// Apply appends the provider to the session options.
	Apply(options *ort.SessionOptions) error
}

// Backends lists every supported backend.
func Backends() []ProviderBackend {
	return []ProviderBackend{
		CPUProviderBackend,
		CUDAProviderBackend,
		CoreMLProviderBackend,
		OpenVINOProviderBackend,
	}
}

// ParseBackend resolves a backend name, case-insensitively. The empty string selects
// the CPU backend.
//
// Arguments:
//   - name: The backend name.
//
// Returns:
//   - ProviderBackend: The backend.
//   - error: If the name is not a supported backend.
func ParseBackend(name string) (ProviderBackend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return CPUProviderBackend, nil
	}
	for _, b := range Backends() {
		if string(b) == name {
			return b, nil
		}
	}
	return "", errors.Errorf("unsupported provider backend %q", name)
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - backend: The backend to use.
//   - options: The options for the provider; nil selects the backend defaults.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: If the backend is unknown or the options belong to another backend.
//
// @example
// provider, err := NewProvider(CUDAProviderBackend, CUDAOptions{DeviceID: 1})
func NewProvider(backend ProviderBackend, options ProviderOptions) (ExecutionProvider, error) {
	switch backend {
	case CPUProviderBackend:
		if options == nil {
			options = CPUOptions{}
		}
		if opts, ok := options.(CPUOptions); ok {
			return NewCPUProvider(opts), nil
		}
	case CUDAProviderBackend:
		if options == nil {
			options = CUDAOptions{}
		}
		if opts, ok := options.(CUDAOptions); ok {
			return NewCUDAProvider(opts), nil
		}
	case CoreMLProviderBackend:
		if options == nil {
			options = CoreMLOptions{}
		}
		if opts, ok := options.(CoreMLOptions); ok {
			return NewCoreMLProvider(opts), nil
		}
	case OpenVINOProviderBackend:
		if options == nil {
			options = OpenVINOOptions{}
		}
		if opts, ok := options.(OpenVINOOptions); ok {
			return NewOpenVINOProvider(opts)
		}
	default:
		return nil, errors.Errorf("no matching provider backend registered: %s", backend)
	}
	return nil, errors.Errorf("options of type %T do not match backend %s", options, backend)
}
