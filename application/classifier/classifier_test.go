package classifier

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Skryldev/affect-lab/application/features"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/internal/mocks"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestArgmax(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want int
	}{
		{name: "empty", in: nil, want: -1},
		{name: "single", in: []float64{0.3}, want: 0},
		{name: "clear winner", in: []float64{0.1, 0.7, 0.2}, want: 1},
		{name: "tie goes low", in: []float64{0.1, 0.4, 0.1, 0.4}, want: 1},
		{name: "all equal", in: []float64{0.125, 0.125, 0.125}, want: 0},
		{name: "negative", in: []float64{-3, -1, -2}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Argmax(tt.in))
		})
	}
}

func TestNewAdapter_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		in, out int
		wantErr bool
	}{
		{name: "ok", in: features.Width, out: model.NumClasses},
		{name: "narrow input", in: 100, out: model.NumClasses, wantErr: true},
		{name: "wrong classes", in: features.Width, out: 7, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(&mocks.MockNetwork{In: tt.in, Out: tt.out})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			_, ok := pkgerrors.As[*pkgerrors.ShapeMismatchError](err)
			assert.True(t, ok, "got %v", err)
		})
	}
}

func TestAdapter_Predict(t *testing.T) {
	net := &mocks.MockNetwork{
		In:     features.Width,
		Out:    model.NumClasses,
		Output: []float64{0.05, 0.6, 0.05, 0.05, 0.05, 0.1, 0.05, 0.05},
	}
	a, err := NewAdapter(net)
	require.NoError(t, err)

	p, err := a.Predict(context.Background(), make([]float64, features.Width))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, net.Output, p.Probabilities)
}

func TestAdapter_PredictWrongWidth(t *testing.T) {
	a, err := NewAdapter(&mocks.MockNetwork{In: features.Width, Out: model.NumClasses})
	require.NoError(t, err)

	_, err = a.Predict(context.Background(), make([]float64, 100))
	shape, ok := pkgerrors.As[*pkgerrors.ShapeMismatchError](err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, features.Width, shape.Expected)
	assert.Equal(t, 100, shape.Got)
}

func TestAdapter_PredictBadOutput(t *testing.T) {
	tests := []struct {
		name   string
		output []float64
		check  func(t *testing.T, err error)
	}{
		{
			name:   "nan",
			output: []float64{0, math.NaN(), 0, 0, 0, 0, 0, 0},
			check: func(t *testing.T, err error) {
				_, ok := pkgerrors.As[*pkgerrors.InferenceError](err)
				assert.True(t, ok, "got %v", err)
			},
		},
		{
			name:   "short",
			output: []float64{1, 0, 0},
			check: func(t *testing.T, err error) {
				_, ok := pkgerrors.As[*pkgerrors.ShapeMismatchError](err)
				assert.True(t, ok, "got %v", err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(&mocks.MockNetwork{In: features.Width, Out: model.NumClasses, Output: tt.output})
			require.NoError(t, err)
			_, err = a.Predict(context.Background(), make([]float64, features.Width))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

const kerasList = `{
  "class_name": "Sequential",
  "config": [
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 3, "activation": "tanh", "batch_input_shape": [null, 2]}},
    {"class_name": "Dropout", "config": {"name": "dropout_1", "rate": 0.1}},
    {"class_name": "Dense", "config": {"name": "dense_2", "units": 2, "activation": "linear"}},
    {"class_name": "Activation", "config": {"name": "act", "activation": "softmax"}}
  ]
}`

const kerasWrapped = `{
  "class_name": "Sequential",
  "config": {
    "name": "sequential_1",
    "layers": [
      {"class_name": "InputLayer", "config": {"name": "in", "batch_shape": [null, 2]}},
      {"class_name": "Dense", "config": {"name": "d1", "units": 3, "activation": "relu"}},
      {"class_name": "Dense", "config": {"name": "d2", "units": 2, "activation": "softmax"}}
    ]
  }
}`

func TestParseTopology(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    *Topology
		wantErr string
	}{
		{
			name: "layer list",
			json: kerasList,
			want: &Topology{InputWidth: 2, Layers: []LayerSpec{
				{Name: "dense_1", Units: 3, Activation: "tanh"},
				{Name: "dense_2", Units: 2, Activation: "softmax"},
			}},
		},
		{
			name: "wrapped config",
			json: kerasWrapped,
			want: &Topology{Name: "sequential_1", InputWidth: 2, Layers: []LayerSpec{
				{Name: "d1", Units: 3, Activation: "relu"},
				{Name: "d2", Units: 2, Activation: "softmax"},
			}},
		},
		{
			name:    "functional model",
			json:    `{"class_name": "Model", "config": {}}`,
			wantErr: "not Sequential",
		},
		{
			name:    "conv layer",
			json:    `{"class_name": "Sequential", "config": [{"class_name": "Conv1D", "config": {"batch_input_shape": [null, 2]}}]}`,
			wantErr: "unsupported layer",
		},
		{
			name:    "unknown activation",
			json:    `{"class_name": "Sequential", "config": [{"class_name": "Dense", "config": {"units": 2, "activation": "selu", "input_dim": 2}}]}`,
			wantErr: "unsupported activation",
		},
		{
			name:    "no input width",
			json:    `{"class_name": "Sequential", "config": [{"class_name": "Dense", "config": {"units": 2}}]}`,
			wantErr: "input width",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := ParseTopology(bytes.NewBufferString(tt.json))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, topo)
			assert.Equal(t, 2*3+3+3*2+2, topo.ParamCount())
		})
	}
}

func smallLayers() []Layer {
	return []Layer{
		{
			Kernel:     mat.NewDense(2, 3, []float64{1, 0, -1, 0, 1, 0.5}),
			Bias:       []float64{0, 0.5, 0},
			Activation: ActTanh,
		},
		{
			Kernel:     mat.NewDense(3, 2, []float64{1, -1, 0.5, 0.5, -1, 1}),
			Bias:       []float64{0.25, 0},
			Activation: ActSoftmax,
		},
	}
}

func TestTopologyBuild_WeightBlob(t *testing.T) {
	topo, err := ParseTopology(bytes.NewBufferString(kerasList))
	require.NoError(t, err)

	var blob bytes.Buffer
	require.NoError(t, WriteWeights(&blob, smallLayers()))
	assert.Equal(t, topo.ParamCount()*4, blob.Len())

	t.Run("exact", func(t *testing.T) {
		m, err := topo.Build(bytes.NewReader(blob.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 2, m.InputWidth())
		assert.Equal(t, 2, m.OutputWidth())

		want, err := NewMLP(smallLayers())
		require.NoError(t, err)
		in := []float64{0.3, -0.7}
		got, err := m.Forward(context.Background(), in)
		require.NoError(t, err)
		exp, err := want.Forward(context.Background(), in)
		require.NoError(t, err)
		assert.InDeltaSlice(t, exp, got, 1e-6)
	})

	t.Run("short", func(t *testing.T) {
		_, err := topo.Build(bytes.NewReader(blob.Bytes()[:blob.Len()-4]))
		assert.ErrorContains(t, err, "bias of dense_2")
	})

	t.Run("trailing", func(t *testing.T) {
		_, err := topo.Build(bytes.NewReader(append(append([]byte(nil), blob.Bytes()...), 0, 0, 0, 0)))
		assert.ErrorContains(t, err, "trailing")
	})
}

func TestMLP_Forward(t *testing.T) {
	m, err := NewMLP(smallLayers())
	require.NoError(t, err)

	out, err := m.Forward(context.Background(), []float64{1, 2})
	require.NoError(t, err)

	// hidden = tanh([1, 2.5, 0]) ; logits = hidden*K2 + b2
	h := []float64{math.Tanh(1), math.Tanh(2.5), 0}
	l0 := h[0]*1 + h[1]*0.5 + h[2]*-1 + 0.25
	l1 := h[0]*-1 + h[1]*0.5 + h[2]*1
	z := math.Exp(l0) + math.Exp(l1)
	assert.InDeltaSlice(t, []float64{math.Exp(l0) / z, math.Exp(l1) / z}, out, 1e-12)
	assert.InDelta(t, 1.0, out[0]+out[1], 1e-12)

	_, err = m.Forward(context.Background(), []float64{1})
	_, ok := pkgerrors.As[*pkgerrors.ShapeMismatchError](err)
	assert.True(t, ok)
}

func TestNewMLP_Invalid(t *testing.T) {
	layers := smallLayers()
	layers[1].Kernel = mat.NewDense(4, 2, nil)
	_, err := NewMLP(layers)
	assert.ErrorContains(t, err, "takes 4 inputs")

	layers = smallLayers()
	layers[0].Bias = []float64{0}
	_, err = NewMLP(layers)
	assert.ErrorContains(t, err, "biases")
}

func TestActivations(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: ActLinear, in: -2, want: -2},
		{name: ActReLU, in: -2, want: 0},
		{name: ActReLU, in: 3, want: 3},
		{name: ActSigmoid, in: 0, want: 0.5},
		{name: ActELU, in: -1, want: math.Exp(-1) - 1},
		{name: ActSoftplus, in: 0, want: math.Log(2)},
		{name: ActSoftplus, in: 800, want: 800},
	}
	for _, tt := range tests {
		f, err := activationFunc(tt.name)
		require.NoError(t, err)
		v := []float64{tt.in}
		f(v)
		assert.InDelta(t, tt.want, v[0], 1e-12, "%s(%v)", tt.name, tt.in)
	}
}

func TestLoadMLP_FromFiles(t *testing.T) {
	dir := t.TempDir()
	topoPath := filepath.Join(dir, "model.json")
	weightsPath := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(topoPath, []byte(kerasList), 0o644))

	var blob bytes.Buffer
	require.NoError(t, WriteWeights(&blob, smallLayers()))
	require.NoError(t, os.WriteFile(weightsPath, blob.Bytes(), 0o644))

	m, err := LoadMLP(topoPath, weightsPath)
	require.NoError(t, err)
	assert.Equal(t, 2, m.InputWidth())

	require.NoError(t, os.WriteFile(weightsPath, blob.Bytes()[:8], 0o644))
	_, err = LoadMLP(topoPath, weightsPath)
	assert.ErrorContains(t, err, "topology needs")
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "emotion.json")

	m, err := LoadMetadata(modelPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultMetadata(), m)

	good := "name: ravdess-mlp\nversion: \"1\"\nfeature_width: 193\nlabels: [neutral, calm, happy, sad, angry, fearful, disgust, surprised]\n"
	require.NoError(t, os.WriteFile(SidecarPath(modelPath), []byte(good), 0o644))
	m, err = LoadMetadata(modelPath)
	require.NoError(t, err)
	assert.Equal(t, "ravdess-mlp", m.Name)

	swapped := "labels: [calm, neutral, happy, sad, angry, fearful, disgust, surprised]\n"
	require.NoError(t, os.WriteFile(SidecarPath(modelPath), []byte(swapped), 0o644))
	_, err = LoadMetadata(modelPath)
	assert.ErrorContains(t, err, "label 0")

	narrow := "feature_width: 180\n"
	require.NoError(t, os.WriteFile(SidecarPath(modelPath), []byte(narrow), 0o644))
	_, err = LoadMetadata(modelPath)
	assert.ErrorContains(t, err, "feature_width")
}
