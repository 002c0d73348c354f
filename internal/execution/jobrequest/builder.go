// Package jobrequest turns a model descriptor and caller-supplied port values
// into the job request submitted to the model container.
//
// Document ports get a fresh document id and an inline value; stream ports
// carry a stream id and require a stream service. The builder either returns
// a complete request or an error, never a partial request.
package jobrequest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/modelharness/internal/domain"
)

type Options struct {
	ModelID      string
	InitialPorts map[string]any
	// DocumentService is always injected.
	DocumentService domain.ServiceConfig
	// StreamService is optional; stream ports fail without it.
	StreamService *domain.ServiceConfig
	// NewID overrides document id generation. Tests only.
	NewID func() string
}

// Built is a job request plus the reverse document index used to assemble
// results.
type Built struct {
	Model         domain.ModelDescriptor
	Request       domain.JobRequest
	DocumentPorts map[string]string
}

func Build(manifest domain.Manifest, opts Options) (Built, error) {
	model, err := manifest.Model(opts.ModelID)
	if err != nil {
		return Built{}, err
	}
	if err := model.Validate(); err != nil {
		return Built{}, err
	}
	if strings.TrimSpace(opts.DocumentService.URL) == "" {
		return Built{}, fmt.Errorf("%w: document service url is required", domain.ErrConfiguration)
	}
	streams := opts.StreamService
	if streams != nil && strings.TrimSpace(streams.URL) == "" {
		streams = nil
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	ports := make(map[string]domain.PortBinding, len(model.Ports))
	docPorts := make(map[string]string)
	for _, port := range model.Ports {
		value, supplied := opts.InitialPorts[port.Name]
		switch port.Kind {
		case domain.PortKindStream:
			if streams == nil {
				return Built{}, fmt.Errorf("%w: port %s is a stream port but no stream service is configured", domain.ErrConfiguration, port.Name)
			}
			streamID, ok := value.(string)
			if !ok {
				if !supplied {
					return Built{}, fmt.Errorf("%w: stream port %s requires a stream id", domain.ErrConfiguration, port.Name)
				}
				return Built{}, fmt.Errorf("%w: stream port %s requires a string stream id, got %T", domain.ErrConfiguration, port.Name, value)
			}
			ports[port.Name] = domain.PortBinding{Kind: domain.PortKindStream, StreamID: streamID}
		default:
			doc := ""
			if supplied {
				doc, err = EncodeDocument(value)
				if err != nil {
					return Built{}, fmt.Errorf("%w: port %s: %v", domain.ErrConfiguration, port.Name, err)
				}
			}
			docID := newID()
			ports[port.Name] = domain.PortBinding{Kind: domain.PortKindDocument, DocumentID: docID, Document: doc}
			docPorts[docID] = port.Name
		}
	}

	services := map[string]domain.ServiceConfig{
		domain.ServiceDocuments: opts.DocumentService,
	}
	if streams != nil {
		services[domain.ServiceStreams] = *streams
	}

	return Built{
		Model: model,
		Request: domain.JobRequest{
			ModelID:  model.ID,
			Ports:    ports,
			Services: services,
		},
		DocumentPorts: docPorts,
	}, nil
}

// EncodeDocument renders a port value in document wire form: strings pass
// through, everything else is JSON encoded.
func EncodeDocument(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}
