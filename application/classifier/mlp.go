package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Activation names accepted in a topology.
const (
	ActLinear   = "linear"
	ActReLU     = "relu"
	ActTanh     = "tanh"
	ActSigmoid  = "sigmoid"
	ActSoftmax  = "softmax"
	ActELU      = "elu"
	ActSoftplus = "softplus"
)

// Layer is one dense layer: out = act(in * Kernel + Bias).
type Layer struct {
	Kernel     *mat.Dense // in x out
	Bias       []float64
	Activation string
}

// MLP is a stack of dense layers evaluated with gonum. Dropout layers are
// identity at inference time and never appear here. An MLP is immutable
// after construction and safe for concurrent use.
type MLP struct {
	layers []Layer
}

// NewMLP validates that consecutive layers chain and that every activation
// is known.
func NewMLP(layers []Layer) (*MLP, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("mlp: no dense layers")
	}
	for i, l := range layers {
		in, out := l.Kernel.Dims()
		if len(l.Bias) != out {
			return nil, fmt.Errorf("mlp: layer %d has %d biases for %d units", i, len(l.Bias), out)
		}
		if i > 0 {
			_, prev := layers[i-1].Kernel.Dims()
			if prev != in {
				return nil, fmt.Errorf("mlp: layer %d takes %d inputs but layer %d emits %d", i, in, i-1, prev)
			}
		}
		if _, err := activationFunc(l.Activation); err != nil {
			return nil, fmt.Errorf("mlp: layer %d: %w", i, err)
		}
	}
	return &MLP{layers: layers}, nil
}

// InputWidth is the row count of the first kernel.
func (m *MLP) InputWidth() int {
	r, _ := m.layers[0].Kernel.Dims()
	return r
}

// OutputWidth is the column count of the last kernel.
func (m *MLP) OutputWidth() int {
	_, c := m.layers[len(m.layers)-1].Kernel.Dims()
	return c
}

// Forward evaluates one input row.
func (m *MLP) Forward(ctx context.Context, input []float64) ([]float64, error) {
	if len(input) != m.InputWidth() {
		return nil, pkgerrors.NewShapeMismatchError("mlp input", m.InputWidth(), len(input))
	}

	row := mat.NewDense(1, len(input), append([]float64(nil), input...))
	for i, l := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, out := l.Kernel.Dims()
		next := mat.NewDense(1, out, nil)
		next.Mul(row, l.Kernel)

		v := next.RawRowView(0)
		for j := range v {
			v[j] += l.Bias[j]
		}
		act, _ := activationFunc(l.Activation)
		act(v)
		if hasNaN(v) {
			return nil, pkgerrors.NewInferenceError("mlp", fmt.Sprintf("layer %d produced NaN", i), nil)
		}
		row = next
	}
	return append([]float64(nil), row.RawRowView(0)...), nil
}

// Close is a no-op.
func (m *MLP) Close() error { return nil }

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

func activationFunc(name string) (func([]float64), error) {
	switch strings.ToLower(name) {
	case "", ActLinear:
		return func([]float64) {}, nil
	case ActReLU:
		return elementwise(func(x float64) float64 { return math.Max(0, x) }), nil
	case ActTanh:
		return elementwise(math.Tanh), nil
	case ActSigmoid:
		return elementwise(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }), nil
	case ActELU:
		return elementwise(func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Expm1(x)
		}), nil
	case ActSoftplus:
		return elementwise(func(x float64) float64 {
			// log1p(exp(x)) without overflow
			return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
		}), nil
	case ActSoftmax:
		return softmax, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

func elementwise(f func(float64) float64) func([]float64) {
	return func(v []float64) {
		for i, x := range v {
			v[i] = f(x)
		}
	}
}

func softmax(v []float64) {
	peak := math.Inf(-1)
	for _, x := range v {
		peak = math.Max(peak, x)
	}
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - peak)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// Topology is the subset of a Keras Sequential model description this
// package understands.
type Topology struct {
	Name       string
	InputWidth int
	Layers     []LayerSpec
}

// LayerSpec describes one dense layer of a topology. Activation layers
// are folded into the preceding Dense.
type LayerSpec struct {
	Name       string
	Units      int
	Activation string
}

type kerasModel struct {
	ClassName string          `json:"class_name"`
	Config    json.RawMessage `json:"config"`
}

type kerasLayer struct {
	ClassName string `json:"class_name"`
	Config    struct {
		Name            string `json:"name"`
		Units           int    `json:"units"`
		OutputDim       int    `json:"output_dim"`
		Activation      string `json:"activation"`
		InputDim        int    `json:"input_dim"`
		BatchInputShape []*int `json:"batch_input_shape"`
		BatchShape      []*int `json:"batch_shape"`
		UseBias         *bool  `json:"use_bias"`
	} `json:"config"`
}

// ParseTopology reads a Keras model JSON of a Sequential network. Both the
// bare layer list and the {"name", "layers"} config forms are accepted.
func ParseTopology(r io.Reader) (*Topology, error) {
	var km kerasModel
	if err := json.NewDecoder(r).Decode(&km); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	if km.ClassName != "Sequential" {
		return nil, fmt.Errorf("topology: model class %q is not Sequential", km.ClassName)
	}

	var (
		layers []kerasLayer
		name   string
	)
	cfg := bytes.TrimSpace(km.Config)
	if len(cfg) > 0 && cfg[0] == '[' {
		if err := json.Unmarshal(cfg, &layers); err != nil {
			return nil, fmt.Errorf("topology: layers: %w", err)
		}
	} else {
		var wrapped struct {
			Name   string       `json:"name"`
			Layers []kerasLayer `json:"layers"`
		}
		if err := json.Unmarshal(cfg, &wrapped); err != nil {
			return nil, fmt.Errorf("topology: config: %w", err)
		}
		layers, name = wrapped.Layers, wrapped.Name
	}

	t := &Topology{Name: name}
	for i, l := range layers {
		if t.InputWidth == 0 {
			t.InputWidth = inputWidthOf(l)
		}
		switch l.ClassName {
		case "InputLayer", "Dropout":
		case "Dense":
			units := l.Config.Units
			if units == 0 {
				units = l.Config.OutputDim
			}
			if units <= 0 {
				return nil, fmt.Errorf("topology: layer %d (%s) has no units", i, l.Config.Name)
			}
			if l.Config.UseBias != nil && !*l.Config.UseBias {
				return nil, fmt.Errorf("topology: layer %d (%s) without bias is not supported", i, l.Config.Name)
			}
			t.Layers = append(t.Layers, LayerSpec{Name: l.Config.Name, Units: units, Activation: l.Config.Activation})
		case "Activation":
			if len(t.Layers) == 0 {
				return nil, fmt.Errorf("topology: activation layer %d precedes any dense layer", i)
			}
			last := &t.Layers[len(t.Layers)-1]
			if last.Activation != "" && last.Activation != ActLinear {
				return nil, fmt.Errorf("topology: layer %d stacks %s on %s", i, l.Config.Activation, last.Activation)
			}
			last.Activation = l.Config.Activation
		default:
			return nil, fmt.Errorf("topology: unsupported layer %d of class %q", i, l.ClassName)
		}
	}

	if t.InputWidth <= 0 {
		return nil, fmt.Errorf("topology: input width is not declared")
	}
	if len(t.Layers) == 0 {
		return nil, fmt.Errorf("topology: no dense layers")
	}
	for _, l := range t.Layers {
		if _, err := activationFunc(l.Activation); err != nil {
			return nil, fmt.Errorf("topology: layer %s: %w", l.Name, err)
		}
	}
	return t, nil
}

func inputWidthOf(l kerasLayer) int {
	if l.Config.InputDim > 0 {
		return l.Config.InputDim
	}
	for _, shape := range [][]*int{l.Config.BatchInputShape, l.Config.BatchShape} {
		if len(shape) == 2 && shape[1] != nil {
			return *shape[1]
		}
	}
	return 0
}

// ParamCount is the number of float32 values the weight blob must hold.
func (t *Topology) ParamCount() int {
	n, in := 0, t.InputWidth
	for _, l := range t.Layers {
		n += in*l.Units + l.Units
		in = l.Units
	}
	return n
}

// Build reads weights for t from r: for each dense layer its kernel
// (in x out, row-major) then its bias, all little-endian float32. Both a
// short and an over-long blob are errors.
func (t *Topology) Build(r io.Reader) (*MLP, error) {
	layers := make([]Layer, 0, len(t.Layers))
	in := t.InputWidth
	for _, spec := range t.Layers {
		kernel, err := readFloats(r, in*spec.Units)
		if err != nil {
			return nil, fmt.Errorf("weights: kernel of %s: %w", spec.Name, err)
		}
		bias, err := readFloats(r, spec.Units)
		if err != nil {
			return nil, fmt.Errorf("weights: bias of %s: %w", spec.Name, err)
		}
		layers = append(layers, Layer{
			Kernel:     mat.NewDense(in, spec.Units, kernel),
			Bias:       bias,
			Activation: spec.Activation,
		})
		in = spec.Units
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("weights: trailing data after %d parameters", t.ParamCount())
	}
	return NewMLP(layers)
}

func readFloats(r io.Reader, n int) ([]float64, error) {
	raw := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

// WriteWeights serialises layers in the format Build reads.
func WriteWeights(w io.Writer, layers []Layer) error {
	for i, l := range layers {
		in, out := l.Kernel.Dims()
		buf := make([]float32, 0, in*out+out)
		for r := 0; r < in; r++ {
			for c := 0; c < out; c++ {
				buf = append(buf, float32(l.Kernel.At(r, c)))
			}
		}
		for _, b := range l.Bias {
			buf = append(buf, float32(b))
		}
		if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("weights: layer %d: %w", i, err)
		}
	}
	return nil
}
