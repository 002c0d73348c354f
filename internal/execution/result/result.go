// Package result turns the document table and final status of a run into the
// caller-facing result.
package result

import "github.com/animus-labs/modelharness/internal/domain"

type Input struct {
	// DocumentPorts maps document id to port name.
	DocumentPorts map[string]string
	// Documents is the document store table keyed by document id.
	Documents    map[string]any
	InitialPorts map[string]any
	Status       domain.ExecutionStatus
}

type Result struct {
	// Documents is keyed by port name.
	Documents  map[string]any
	ModelError *domain.ModelError
}

// Assemble overlays stored documents on the caller's initial port values.
// Stored ids with no port mapping are dropped.
func Assemble(in Input) Result {
	docs := make(map[string]any, len(in.InitialPorts)+len(in.DocumentPorts))
	for name, v := range in.InitialPorts {
		docs[name] = v
	}
	for id, v := range in.Documents {
		name, ok := in.DocumentPorts[id]
		if !ok {
			continue
		}
		docs[name] = v
	}
	return Result{
		Documents:  docs,
		ModelError: in.Status.Failure(),
	}
}
