// Package classifier turns a feature vector into an emotion class index
// using a loaded feed-forward network.
package classifier

import (
	"context"
	"math"

	"github.com/Skryldev/affect-lab/application/features"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
)

// Prediction is the outcome of one forward pass.
type Prediction struct {
	Index         int
	Probabilities []float64
}

// Adapter validates shapes around a Network and picks the winning class.
// It holds no per-call state and is as concurrency-safe as its Network.
type Adapter struct {
	net ports.Network
}

// NewAdapter wraps net after checking that it consumes feature vectors
// and produces one output per emotion.
func NewAdapter(net ports.Network) (*Adapter, error) {
	if net == nil {
		return nil, pkgerrors.NewInputError("network", nil, "network is required")
	}
	if net.InputWidth() != features.Width {
		return nil, pkgerrors.NewShapeMismatchError("network input", features.Width, net.InputWidth())
	}
	if net.OutputWidth() != model.NumClasses {
		return nil, pkgerrors.NewShapeMismatchError("network output", model.NumClasses, net.OutputWidth())
	}
	return &Adapter{net: net}, nil
}

// Network returns the wrapped network.
func (a *Adapter) Network() ports.Network { return a.net }

// Predict runs vec through the network as a single-row batch.
func (a *Adapter) Predict(ctx context.Context, vec []float64) (Prediction, error) {
	if len(vec) != a.net.InputWidth() {
		return Prediction{}, pkgerrors.NewShapeMismatchError("feature vector", a.net.InputWidth(), len(vec))
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	out, err := a.net.Forward(ctx, vec)
	if err != nil {
		if _, ok := pkgerrors.As[*pkgerrors.InferenceError](err); ok {
			return Prediction{}, err
		}
		return Prediction{}, pkgerrors.NewInferenceError("network", "forward pass failed", err)
	}
	if len(out) != model.NumClasses {
		return Prediction{}, pkgerrors.NewShapeMismatchError("network output", model.NumClasses, len(out))
	}
	for _, v := range out {
		if math.IsNaN(v) {
			return Prediction{}, pkgerrors.NewInferenceError("network", "network produced NaN", nil)
		}
	}

	return Prediction{Index: Argmax(out), Probabilities: out}, nil
}

// Argmax returns the index of the largest value. Ties go to the lowest
// index. It returns -1 for an empty slice.
func Argmax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
