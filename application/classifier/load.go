package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/affect-lab/application/features"
	"github.com/Skryldev/affect-lab/domain/model"
	"gopkg.in/yaml.v3"
)

// Metadata is the optional YAML sidecar shipped next to a model. When
// present it pins the label order and feature width the model expects.
type Metadata struct {
	Name         string          `yaml:"name"`
	Version      string          `yaml:"version"`
	FeatureWidth int             `yaml:"feature_width"`
	Labels       []model.Emotion `yaml:"labels"`
	Notes        string          `yaml:"notes,omitempty"`
}

// DefaultMetadata describes the label order and width compiled into this
// binary.
func DefaultMetadata() *Metadata {
	return &Metadata{
		FeatureWidth: features.Width,
		Labels:       model.Labels(),
	}
}

// Validate fails when the sidecar disagrees with the compiled label order
// or feature width.
func (m *Metadata) Validate() error {
	if m.FeatureWidth != 0 && m.FeatureWidth != features.Width {
		return fmt.Errorf("model metadata: feature_width %d, this build extracts %d", m.FeatureWidth, features.Width)
	}
	if len(m.Labels) == 0 {
		return nil
	}
	if len(m.Labels) != model.NumClasses {
		return fmt.Errorf("model metadata: %d labels, want %d", len(m.Labels), model.NumClasses)
	}
	for i, want := range model.Labels() {
		if m.Labels[i] != want {
			return fmt.Errorf("model metadata: label %d is %q, want %q", i, m.Labels[i], want)
		}
	}
	return nil
}

// SidecarPath returns <model path without extension>.yaml.
func SidecarPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".yaml"
}

// LoadMetadata reads and validates the sidecar for modelPath. A missing
// sidecar yields DefaultMetadata.
func LoadMetadata(modelPath string) (*Metadata, error) {
	data, err := os.ReadFile(SidecarPath(modelPath))
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultMetadata(), nil
	}
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("model metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMLP loads a Keras topology and its weight blob.
func LoadMLP(topologyPath, weightsPath string) (*MLP, error) {
	if _, err := LoadMetadata(topologyPath); err != nil {
		return nil, err
	}

	tf, err := os.Open(topologyPath)
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer tf.Close()

	topo, err := ParseTopology(tf)
	if err != nil {
		return nil, err
	}

	wf, err := os.Open(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer wf.Close()

	if info, err := wf.Stat(); err == nil {
		if want := int64(topo.ParamCount()) * 4; info.Size() != want {
			return nil, fmt.Errorf("weights: %s holds %d bytes, topology needs %d", weightsPath, info.Size(), want)
		}
	}
	return topo.Build(bufio.NewReader(wf))
}
