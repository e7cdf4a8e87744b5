// Package onnx runs an exported classifier through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const backend = "onnx"

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnv initialises the process-wide runtime on first use.
func acquireEnv(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() error {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Config describes a model file and the runtime library to load it with.
type Config struct {
	ModelPath string

	// LibraryPath points at the onnxruntime shared library. Empty uses
	// the platform default lookup.
	LibraryPath string

	// InputName and OutputName default to the model's first input and output.
	InputName  string
	OutputName string

	Logger *logger.Logger
}

// Network is a ports.Network backed by a single ONNX Runtime session with
// preallocated single-row tensors. Sessions bound to fixed tensors are not
// reentrant, so Forward is serialised.
type Network struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	inW     int
	outW    int
	log     *logger.Logger
	closed  bool
}

// Open loads cfg.ModelPath. The model must take one [batch, in] or [in]
// float tensor and produce one [batch, out] or [out] float tensor.
func Open(cfg Config) (*Network, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, pkgerrors.NewInputError("model.onnx", cfg.ModelPath, "model file not found")
	}
	log := logger.OrDefault(cfg.Logger).Named("onnx")

	if err := acquireEnv(cfg.LibraryPath); err != nil {
		return nil, pkgerrors.NewInferenceError(backend, "runtime unavailable", err)
	}

	n, err := open(cfg)
	if err != nil {
		return nil, multierr.Append(
			pkgerrors.NewInferenceError(backend, "failed to load model", err),
			releaseEnv(),
		)
	}
	n.log = log

	log.Info("onnx model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("input_width", n.inW),
		zap.Int("output_width", n.outW),
	)
	return n, nil
}

func open(cfg Config) (*Network, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}

	inName, outName := cfg.InputName, cfg.OutputName
	if inName == "" {
		inName = inputs[0].Name
	}
	if outName == "" {
		outName = outputs[0].Name
	}
	inShape, err := rowShape(inputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", inName, err)
	}
	outShape, err := rowShape(outputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", outName, err)
	}
	inW, outW := int(inShape[len(inShape)-1]), int(outShape[len(outShape)-1])

	inT, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	outT, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("output tensor: %w", err), inT.Destroy())
	}

	sess, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inName}, []string{outName},
		[]ort.Value{inT}, []ort.Value{outT},
		nil,
	)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("session: %w", err), inT.Destroy(), outT.Destroy())
	}

	return &Network{session: sess, input: inT, output: outT, inW: inW, outW: outW}, nil
}

// rowShape returns the tensor shape for one row of a [batch, n] or [n]
// model value. n must be fixed and batch, when present, must be dynamic
// or 1. The rank of dims is kept.
func rowShape(dims ort.Shape) (ort.Shape, error) {
	if len(dims) == 0 || len(dims) > 2 {
		return nil, fmt.Errorf("shape %v is not a row vector", dims)
	}
	n := dims[len(dims)-1]
	if n <= 0 {
		return nil, fmt.Errorf("shape %v has no fixed width", dims)
	}
	if len(dims) == 1 {
		return ort.NewShape(n), nil
	}
	if b := dims[0]; b > 1 {
		return nil, fmt.Errorf("shape %v has a fixed batch of %d, want 1", dims, b)
	}
	return ort.NewShape(1, n), nil
}

func (n *Network) InputWidth() int  { return n.inW }
func (n *Network) OutputWidth() int { return n.outW }

// Forward copies input into the session tensor, runs it and returns a
// copy of the output row.
func (n *Network) Forward(ctx context.Context, input []float64) ([]float64, error) {
	if len(input) != n.inW {
		return nil, pkgerrors.NewShapeMismatchError("onnx input", n.inW, len(input))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, pkgerrors.NewInferenceError(backend, "network is closed", nil)
	}

	data := n.input.GetData()
	for i, v := range input {
		data[i] = float32(v)
	}
	if err := n.session.Run(); err != nil {
		return nil, pkgerrors.NewInferenceError(backend, "session run failed", err)
	}

	raw := n.output.GetData()
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

// Close destroys the session and its tensors and releases the runtime
// when this was the last open network.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.log != nil {
		n.log.Info("closing onnx session")
	}
	return multierr.Combine(
		n.session.Destroy(),
		n.input.Destroy(),
		n.output.Destroy(),
		releaseEnv(),
	)
}
