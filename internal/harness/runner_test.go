package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/modelharness/internal/archive"
	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/execution/poller"
	"github.com/animus-labs/modelharness/internal/modelclient"
	"github.com/animus-labs/modelharness/internal/registry"
	"github.com/animus-labs/modelharness/internal/runevents"
	"github.com/animus-labs/modelharness/internal/runtimeexec"
)

type fakeEngine struct {
	mu       sync.Mutex
	imageErr error
	creates  int
	stops    int
	removes  int
	spec     runtimeexec.ContainerSpec
}

func (f *fakeEngine) Kind() string { return "fake" }

func (f *fakeEngine) ResolveImageID(ctx context.Context, imageRef string) (string, error) {
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return "sha256:" + imageRef, nil
}

func (f *fakeEngine) Create(ctx context.Context, spec runtimeexec.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.spec = spec
	return "c0ffee0123456789", nil
}

func (f *fakeEngine) Start(ctx context.Context, id string) error { return nil }

func (f *fakeEngine) Inspect(ctx context.Context, id string) (runtimeexec.Observation, error) {
	return runtimeexec.Observation{Running: true}, nil
}

func (f *fakeEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	return nil
}

func (f *fakeEngine) Logs(ctx context.Context, id string) (string, error) {
	return "model booted\n", nil
}

type mapRegistry map[string]registry.Entry

func (m mapRegistry) Lookup(ctx context.Context, modelPath string) (registry.Entry, error) {
	e, ok := m[modelPath]
	if !ok {
		return registry.Entry{}, fmt.Errorf("%w: %s", domain.ErrUnregisteredModel, modelPath)
	}
	return e, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	phases []string
}

func (r *recordingEvents) Publish(ctx context.Context, ev runevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, ev.Phase)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

type recordingArchive struct {
	runs []archive.Run
}

func (r *recordingArchive) Save(ctx context.Context, run archive.Run) error {
	r.runs = append(r.runs, run)
	return nil
}

type recordingDump struct {
	bodies []string
}

func (r *recordingDump) Section(title, body string) { r.bodies = append(r.bodies, body) }

// fakeModel is an in-process job server. After submission it writes the
// configured documents to the analysis service it was given, then reports
// the final state.
type fakeModel struct {
	writes    map[string]any
	final     domain.ExecutionState
	exception domain.ErrorDetail
	dropAfter int

	mu          sync.Mutex
	submitted   bool
	written     bool
	statusCalls int
	job         submittedJob
	terminated  bool
}

type submittedJob struct {
	ModelID string `json:"modelId"`
	Ports   map[string]struct {
		DocumentID string `json:"documentId"`
		Document   string `json:"document"`
		StreamID   string `json:"streamId"`
	} `json:"ports"`
	Analysis struct {
		URL string `json:"url"`
	} `json:"analysisServicesConfiguration"`
}

func (m *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/terminate":
		m.mu.Lock()
		m.terminated = true
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/":
		var job submittedJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.submitted = true
		m.job = job
		m.mu.Unlock()
		go m.writeDocuments(job)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Path == "/":
		m.status(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *fakeModel) writeDocuments(job submittedJob) {
	for port, value := range m.writes {
		binding, ok := job.Ports[port]
		if !ok {
			continue
		}
		body, _ := json.Marshal(map[string]any{"value": value})
		req, _ := http.NewRequest(http.MethodPut, job.Analysis.URL+"/documentnodes/"+binding.DocumentID, bytes.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
		}
	}
	m.mu.Lock()
	m.written = true
	m.mu.Unlock()
}

func (m *fakeModel) status(w http.ResponseWriter) {
	m.mu.Lock()
	if !m.submitted {
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"state": "PENDING"})
		return
	}
	m.statusCalls++
	calls, written := m.statusCalls, m.written
	m.mu.Unlock()

	if m.dropAfter > 0 && calls > m.dropAfter {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	st := domain.ExecutionStatus{
		State: domain.StateRunning,
		Log:   []domain.LogEntry{{Level: domain.LogInfo, Message: "working", Timestamp: "t0"}},
	}
	if written && m.dropAfter == 0 {
		st.State = m.final
		st.Exception = m.exception
	}
	_ = json.NewEncoder(w).Encode(st)
}

type harnessFixture struct {
	engine  *fakeEngine
	events  *recordingEvents
	archive *recordingArchive
	dump    *recordingDump
	runner  *Runner
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DocStoreAddr = "127.0.0.1:0"
	cfg.DocStoreAdvertiseHost = ""
	cfg.Poll = poller.Config{
		ProbeInterval:        time.Millisecond,
		MaxProbeRetries:      5,
		PollInterval:         5 * time.Millisecond,
		DocumentServeTimeout: 20 * time.Millisecond,
		TerminateTimeout:     time.Second,
	}
	return cfg
}

func newFixture(t *testing.T, manifest domain.Manifest, modelURL string) *harnessFixture {
	t.Helper()
	f := &harnessFixture{
		engine:  &fakeEngine{},
		events:  &recordingEvents{},
		archive: &recordingArchive{},
		dump:    &recordingDump{},
	}
	runner, err := NewRunner(testConfig(), Deps{
		Registry: mapRegistry{"/models/simple": {Image: "models/simple:latest", Manifest: manifest}},
		Engine:   f.engine,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:   f.events,
		Archive:  f.archive,
		LogDump:  f.dump,
		NewModelAPI: func(string) (poller.ModelAPI, error) {
			return modelclient.New(modelURL, 2*time.Second)
		},
		NewRunID: func() string { return "run-0001" },
	})
	if err != nil {
		t.Fatalf("NewRunner() err=%v", err)
	}
	f.runner = runner
	return f
}

func documentManifest(ports ...string) domain.Manifest {
	specs := make([]domain.PortSpec, 0, len(ports))
	for _, p := range ports {
		specs = append(specs, domain.PortSpec{Name: p, Kind: domain.PortKindDocument})
	}
	return domain.Manifest{Models: []domain.ModelDescriptor{{ID: "simple", Ports: specs}}}
}

func startModel(t *testing.T, m *fakeModel) string {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv.URL
}

func assertReleasedOnce(t *testing.T, engine *fakeEngine) {
	t.Helper()
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.stops != 1 || engine.removes != 1 {
		t.Fatalf("stops=%d removes=%d, want exactly one each", engine.stops, engine.removes)
	}
}

func TestRunModel_DocumentRoundTrip(t *testing.T) {
	model := &fakeModel{writes: map[string]any{"x": 10}, final: domain.StateSucceeded}
	f := newFixture(t, documentManifest("x"), startModel(t, model))

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{
		Ports: map[string]any{"x": 5},
		Env:   map[string]string{"EXTRA": "1"},
	})
	if err != nil {
		t.Fatalf("RunModel() err=%v", err)
	}
	if res.ModelError != nil || res.Interrupted {
		t.Fatalf("RunModel()=%+v", res)
	}
	if res.Documents["x"] != float64(10) {
		t.Fatalf("Documents=%v, want x=10", res.Documents)
	}
	if res.State != domain.StateSucceeded || res.ModelID != "simple" || res.RunID != "run-0001" {
		t.Fatalf("RunModel()=%+v", res)
	}
	if res.ContainerLogs != "model booted\n" || len(f.dump.bodies) != 1 {
		t.Fatalf("ContainerLogs=%q dumps=%v", res.ContainerLogs, f.dump.bodies)
	}
	assertReleasedOnce(t, f.engine)

	model.mu.Lock()
	job := model.job
	terminated := model.terminated
	model.mu.Unlock()
	if job.ModelID != "simple" || job.Ports["x"].Document != "5" || job.Ports["x"].DocumentID == "" {
		t.Fatalf("submitted job=%+v", job)
	}
	if !strings.HasSuffix(job.Analysis.URL, "/api/analysis") {
		t.Fatalf("analysis url=%q", job.Analysis.URL)
	}
	if !terminated {
		t.Fatalf("terminate was not requested")
	}

	spec := f.engine.spec
	if spec.ImageRef != "models/simple:latest" || spec.JobPort != 28080 || spec.Labels["modelharness.run"] != "run-0001" || spec.Env["EXTRA"] != "1" {
		t.Fatalf("container spec=%+v", spec)
	}

	if len(f.archive.runs) != 1 || f.archive.runs[0].ID != "run-0001" {
		t.Fatalf("archived=%+v", f.archive.runs)
	}
	f.events.mu.Lock()
	phases := strings.Join(f.events.phases, ",")
	f.events.mu.Unlock()
	if !strings.HasPrefix(phases, "awaiting_listen,submitted") || !strings.HasSuffix(phases, "terminating,done,finished") {
		t.Fatalf("phases=%s", phases)
	}
}

func TestRunModel_StartupTimeoutReleasesContainer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	f := newFixture(t, documentManifest("x"), url)

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{})
	if !errors.Is(err, domain.ErrStartupTimeout) {
		t.Fatalf("RunModel() err=%v, want ErrStartupTimeout", err)
	}
	assertReleasedOnce(t, f.engine)
	if res.ContainerLogs != "model booted\n" {
		t.Fatalf("ContainerLogs=%q, logs must be fetched on startup failure", res.ContainerLogs)
	}
	if len(f.archive.runs) != 0 {
		t.Fatalf("failed runs are not archived")
	}
}

func TestRunModel_RejectedSubmissionReleasesContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "bad job", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	f := newFixture(t, documentManifest("x"), srv.URL)

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{})
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("RunModel() err=%v, want ErrSubmission", err)
	}
	assertReleasedOnce(t, f.engine)
	if res.ContainerLogs != "model booted\n" {
		t.Fatalf("ContainerLogs=%q, logs must be fetched on a rejected submission", res.ContainerLogs)
	}
	if len(f.archive.runs) != 0 {
		t.Fatalf("rejected runs are not archived")
	}
}

func TestRunModel_ModelReportedFailure(t *testing.T) {
	model := &fakeModel{
		writes:    map[string]any{"out": "partial"},
		final:     domain.StateFailed,
		exception: domain.ErrorDetail{"msg": "boom"},
	}
	f := newFixture(t, documentManifest("x", "out"), startModel(t, model))

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{})
	if err != nil {
		t.Fatalf("RunModel() err=%v, model failures are data", err)
	}
	if res.ModelError == nil || res.ModelError.Detail["msg"] != "boom" {
		t.Fatalf("ModelError=%v", res.ModelError)
	}
	if res.Failure["msg"] != "boom" || res.State != domain.StateFailed {
		t.Fatalf("RunModel()=%+v", res)
	}
	if res.Documents["out"] != "partial" {
		t.Fatalf("Documents=%v, stored documents must survive a failure", res.Documents)
	}
	assertReleasedOnce(t, f.engine)
}

func TestRunModel_InitialValuesSurvive(t *testing.T) {
	model := &fakeModel{final: domain.StateSucceeded}
	f := newFixture(t, documentManifest("a"), startModel(t, model))

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{Ports: map[string]any{"a": "1"}})
	if err != nil {
		t.Fatalf("RunModel() err=%v", err)
	}
	if res.Documents["a"] != "1" {
		t.Fatalf("Documents=%v, want a=1", res.Documents)
	}
}

func TestRunModel_InterruptionKeepsLastKnownStatus(t *testing.T) {
	model := &fakeModel{final: domain.StateSucceeded, dropAfter: 2}
	f := newFixture(t, documentManifest("a"), startModel(t, model))

	res, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{Ports: map[string]any{"a": "1"}})
	if err != nil {
		t.Fatalf("RunModel() err=%v", err)
	}
	if !res.Interrupted || res.State != domain.StateRunning {
		t.Fatalf("Interrupted=%v State=%v, want interrupted while running", res.Interrupted, res.State)
	}
	if res.ModelError != nil {
		t.Fatalf("interruption must not be reported as a model failure: %v", res.ModelError)
	}
	assertReleasedOnce(t, f.engine)
}

func TestRunModel_ConfigurationErrorsStartNothing(t *testing.T) {
	streamManifest := domain.Manifest{Models: []domain.ModelDescriptor{{
		ID:    "streamy",
		Ports: []domain.PortSpec{{Name: "feed", Kind: domain.PortKindStream}},
	}}}
	cases := []struct {
		name     string
		manifest domain.Manifest
		path     string
		opts     RunOptions
		want     error
	}{
		{"unregistered", documentManifest("x"), "/models/unknown", RunOptions{}, domain.ErrUnregisteredModel},
		{"unknown model id", documentManifest("x"), "/models/simple", RunOptions{ModelID: "nope"}, domain.ErrUnknownModelID},
		{"stream without service", streamManifest, "/models/simple", RunOptions{Ports: map[string]any{"feed": "s1"}}, domain.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.manifest, "http://127.0.0.1:1")
			_, err := f.runner.RunModel(context.Background(), tc.path, tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("RunModel() err=%v, want %v", err, tc.want)
			}
			if f.engine.creates != 0 || f.engine.stops != 0 {
				t.Fatalf("creates=%d stops=%d, want nothing started", f.engine.creates, f.engine.stops)
			}
		})
	}
}

func TestRunModel_MissingImage(t *testing.T) {
	f := newFixture(t, documentManifest("x"), "http://127.0.0.1:1")
	f.engine.imageErr = fmt.Errorf("%w: models/simple:latest", runtimeexec.ErrImageRefNotFound)
	_, err := f.runner.RunModel(context.Background(), "/models/simple", RunOptions{})
	if !errors.Is(err, domain.ErrEngine) {
		t.Fatalf("RunModel() err=%v, want ErrEngine", err)
	}
	if f.engine.creates != 0 {
		t.Fatalf("container created without an image")
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(testConfig(), Deps{Engine: &fakeEngine{}}); err == nil {
		t.Fatalf("NewRunner() without registry expected error")
	}
	if _, err := NewRunner(testConfig(), Deps{Registry: mapRegistry{}}); err == nil {
		t.Fatalf("NewRunner() without engine expected error")
	}
	bad := testConfig()
	bad.ModelPort = 0
	if _, err := NewRunner(bad, Deps{Registry: mapRegistry{}, Engine: &fakeEngine{}}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("NewRunner() err=%v, want ErrConfiguration", err)
	}
}
