// Package archive uploads the artifacts of a finished run to object storage
// under <prefix>/<runID>/.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/platform/objectstore"
)

const (
	resultObject = "result.json"
	statusObject = "status.json"
	logObject    = "container.log"
)

type Run struct {
	ID            string
	Result        any
	Status        domain.ExecutionStatus
	ContainerLogs string
}

type Archiver struct {
	store  objectstore.Store
	bucket string
	prefix string
}

func New(store objectstore.Store, bucket, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Key returns the object key for name within run id.
func (a *Archiver) Key(runID, name string) string {
	return path.Join(a.prefix, runID, name)
}

// Save uploads result, status and container log. All three are attempted;
// the returned error joins any failures.
func (a *Archiver) Save(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return fmt.Errorf("ensure archive bucket: %w", err)
	}

	var errs []error
	if err := a.putJSON(ctx, a.Key(run.ID, resultObject), run.Result); err != nil {
		errs = append(errs, err)
	}
	if err := a.putJSON(ctx, a.Key(run.ID, statusObject), run.Status); err != nil {
		errs = append(errs, err)
	}
	if run.ContainerLogs != "" {
		body := []byte(run.ContainerLogs)
		key := a.Key(run.ID, logObject)
		if err := a.store.Put(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), "text/plain; charset=utf-8"); err != nil {
			errs = append(errs, fmt.Errorf("put %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Archiver) putJSON(ctx context.Context, key string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.store.Put(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
