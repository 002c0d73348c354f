package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PortKind says whether a port exchanges an inline document or references an
// external stream.
type PortKind string

const (
	PortKindDocument PortKind = "document"
	PortKindStream   PortKind = "stream"
)

func (k PortKind) Valid() bool {
	switch k {
	case PortKindDocument, PortKindStream:
		return true
	default:
		return false
	}
}

// PortSpec declares one named input/output slot of a model.
type PortSpec struct {
	Name      string   `json:"portName" yaml:"portName"`
	Kind      PortKind `json:"type" yaml:"type"`
	Direction string   `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// portSpecWire accepts the legacy port_name key written by older manifests.
type portSpecWire struct {
	Name       string `json:"portName" yaml:"portName"`
	LegacyName string `json:"port_name" yaml:"port_name"`
	Kind       string `json:"type" yaml:"type"`
	Direction  string `json:"direction" yaml:"direction"`
}

func (w portSpecWire) normalize() PortSpec {
	name := strings.TrimSpace(w.Name)
	if name == "" {
		name = strings.TrimSpace(w.LegacyName)
	}
	kind := PortKind(strings.ToLower(strings.TrimSpace(w.Kind)))
	if kind == "" {
		kind = PortKindDocument
	}
	return PortSpec{
		Name:      name,
		Kind:      kind,
		Direction: strings.ToLower(strings.TrimSpace(w.Direction)),
	}
}

func (p *PortSpec) UnmarshalJSON(data []byte) error {
	var w portSpecWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = w.normalize()
	return nil
}

func (p *PortSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var w portSpecWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	*p = w.normalize()
	return nil
}

// ModelDescriptor is one model entry of a manifest.
type ModelDescriptor struct {
	ID    string     `json:"id" yaml:"id"`
	Ports []PortSpec `json:"ports" yaml:"ports"`
}

func (d ModelDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: model id is required", ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(d.Ports))
	for i, port := range d.Ports {
		if port.Name == "" {
			return fmt.Errorf("%w: model %s port[%d] has no name", ErrConfiguration, d.ID, i)
		}
		if !port.Kind.Valid() {
			return fmt.Errorf("%w: model %s port %s has unsupported type %q", ErrConfiguration, d.ID, port.Name, port.Kind)
		}
		if _, dup := seen[port.Name]; dup {
			return fmt.Errorf("%w: model %s declares port %s twice", ErrConfiguration, d.ID, port.Name)
		}
		seen[port.Name] = struct{}{}
	}
	return nil
}

// Dependency is a package the image build installs. Carried for completeness
// of the manifest round trip; the harness itself never reads it.
type Dependency struct {
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
}

// Manifest is the model package manifest recorded in the registry next to the
// built image.
type Manifest struct {
	BaseImage    string            `json:"baseImage,omitempty" yaml:"baseImage,omitempty"`
	Entrypoint   string            `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Models       []ModelDescriptor `json:"models" yaml:"models"`
}

// Model returns the descriptor for id. An empty id selects the first model.
func (m Manifest) Model(id string) (ModelDescriptor, error) {
	if len(m.Models) == 0 {
		return ModelDescriptor{}, fmt.Errorf("%w: manifest declares no models", ErrConfiguration)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return m.Models[0], nil
	}
	for _, model := range m.Models {
		if model.ID == id {
			return model, nil
		}
	}
	return ModelDescriptor{}, fmt.Errorf("%w: %q (manifest has %s)", ErrUnknownModelID, id, strings.Join(m.ModelIDs(), ", "))
}

func (m Manifest) ModelIDs() []string {
	ids := make([]string, 0, len(m.Models))
	for _, model := range m.Models {
		ids = append(ids, model.ID)
	}
	return ids
}
