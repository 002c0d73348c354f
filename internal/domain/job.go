package domain

import "encoding/json"

// Service names double as the top-level keys of the job request wire form.
const (
	ServiceDocuments = "analysisServicesConfiguration"
	ServiceStreams   = "sensorCloudConfiguration"
)

// ServiceConfig locates an auxiliary service the model may call.
type ServiceConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

// PortBinding binds one port to either an inline document or a stream id.
type PortBinding struct {
	Kind       PortKind
	DocumentID string
	Document   string
	StreamID   string
}

func (b PortBinding) MarshalJSON() ([]byte, error) {
	if b.Kind == PortKindStream {
		return json.Marshal(struct {
			StreamID string `json:"streamId"`
		}{b.StreamID})
	}
	return json.Marshal(struct {
		DocumentID string `json:"documentId"`
		Document   string `json:"document"`
	}{b.DocumentID, b.Document})
}

// JobRequest is submitted once to start a model run and is not mutated after.
type JobRequest struct {
	ModelID  string
	Ports    map[string]PortBinding
	Services map[string]ServiceConfig
}

func (r JobRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Services)+2)
	for name, svc := range r.Services {
		out[name] = svc
	}
	out["modelId"] = r.ModelID
	ports := r.Ports
	if ports == nil {
		ports = map[string]PortBinding{}
	}
	out["ports"] = ports
	return json.Marshal(out)
}
