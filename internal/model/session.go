// Package model owns the ONNX Runtime session of the tumor classifier.
package model

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
)

// ortEnv guards process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Shutdown tears down the ONNX Runtime environment. Call it once, after every
// Session has been closed.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Options controls how a model file is loaded.
type Options struct {
	// MetadataPath points at an optional JSON sidecar; when empty the tensor
	// names and shapes are read from the model file.
	MetadataPath string
	// RuntimeLibrary is the onnxruntime shared library; empty uses the
	// platform default search path.
	RuntimeLibrary string
	// Threads caps intra-op parallelism; zero leaves the runtime default.
	Threads int
	// ImageSize and Layout are used when the model leaves them open.
	ImageSize int
	Layout    preprocess.Layout
}

// Session is a loaded, immutable classifier. Predict may be called from
// multiple goroutines; runs are serialised because the tensors are shared.
type Session struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Load opens modelPath and prepares a session with pre-allocated tensors.
func Load(modelPath string, opts Options) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
		return nil, fmt.Errorf("model: stat %s: %w", modelPath, err)
	}

	if err := initRuntime(opts.RuntimeLibrary); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	meta, err := resolveMetadata(modelPath, opts)
	if err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()
	if opts.Threads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		sessionOpts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		metadata:     *meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func resolveMetadata(modelPath string, opts Options) (*Metadata, error) {
	var meta *Metadata
	if opts.MetadataPath != "" {
		m, err := LoadMetadata(opts.MetadataPath)
		if err != nil {
			return nil, err
		}
		meta = m
	} else {
		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("model: failed to read model info: %w", err)
		}
		if len(inputs) != 1 || len(outputs) == 0 {
			return nil, fmt.Errorf("model: expected one input and at least one output, got %d and %d",
				len(inputs), len(outputs))
		}
		meta = &Metadata{
			InputName:   inputs[0].Name,
			OutputName:  outputs[0].Name,
			InputShape:  append([]int64(nil), inputs[0].Dimensions...),
			OutputShape: append([]int64(nil), outputs[0].Dimensions...),
		}
	}

	if err := meta.complete(opts.ImageSize, opts.Layout); err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// Metadata returns a copy of the resolved tensor description.
func (s *Session) Metadata() Metadata {
	m := s.metadata
	m.InputShape = append([]int64(nil), s.metadata.InputShape...)
	m.OutputShape = append([]int64(nil), s.metadata.OutputShape...)
	m.Classes = append([]string(nil), s.metadata.Classes...)
	return m
}

// Predict runs one forward pass and returns a copy of the output vector.
// It returns ErrClosed once Close has been called.
func (s *Session) Predict(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrClosed
	}
	if want := s.metadata.InputLen(); len(input) != want {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInputSize, len(input), want)
	}

	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	src := s.outputTensor.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// Close releases the session and its tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.inputTensor != nil {
		errs = append(errs, s.inputTensor.Destroy())
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		errs = append(errs, s.outputTensor.Destroy())
		s.outputTensor = nil
	}
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
		s.session = nil
	}
	return errors.Join(errs...)
}
