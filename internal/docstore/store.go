// Package docstore is an embedded stand-in for the analysis service document
// API. The model container reads and writes documents over HTTP; the harness
// applies those requests one at a time from its poll loop via ServeOne, so the
// document table only changes on the caller's goroutine.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/modelharness/internal/platform/httpserver"
)

const (
	// APIPrefix is appended to the advertised base URL handed to the model.
	APIPrefix     = "/api/analysis"
	documentsPath = APIPrefix + "/documentnodes/"

	maxDocumentBytes = 64 << 20
)

type Config struct {
	// Addr is the listen address, e.g. localhost:18080 or :18080.
	Addr string
	// AdvertiseHost is the host the container uses to reach the store. Empty
	// uses the listener's host.
	AdvertiseHost  string
	OrganisationID string
}

// Response is the document node body returned for both GET and PUT.
type Response struct {
	DocumentID     string   `json:"documentid"`
	Value          any      `json:"value"`
	ValueTruncated bool     `json:"valuetruncated"`
	OrganisationID string   `json:"organisationid"`
	GroupIDs       []string `json:"groupids"`
}

type exchange struct {
	method string
	id     string
	value  any
	reply  chan Response
}

type Store struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	docs map[string]any

	pending chan *exchange
	done    chan struct{}
	closed  sync.Once

	srv *httpserver.Server
}

func New(logger *slog.Logger, cfg Config) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OrganisationID == "" {
		cfg.OrganisationID = "csiro"
	}
	return &Store{
		cfg:     cfg,
		logger:  logger.With("component", "docstore"),
		docs:    map[string]any{},
		pending: make(chan *exchange),
		done:    make(chan struct{}),
	}
}

// Start binds the listener and begins accepting requests.
func (s *Store) Start() error {
	if s.srv != nil {
		return errors.New("document store already started")
	}
	srv, err := httpserver.Listen(s.logger, httpserver.Config{
		Service:         "docstore",
		Addr:            s.cfg.Addr,
		ShutdownTimeout: 2 * time.Second,
	}, s.Handler())
	if err != nil {
		return fmt.Errorf("start document store: %w", err)
	}
	s.srv = srv
	return nil
}

// URL is the analysis service base URL to put in the job request.
func (s *Store) URL() string {
	if s.srv == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(s.srv.Addr().String())
	if err != nil {
		return ""
	}
	if s.cfg.AdvertiseHost != "" {
		host = s.cfg.AdvertiseHost
	} else if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + APIPrefix
}

func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("docstore"))
	mux.HandleFunc(documentsPath, s.handleDocument)
	return httpserver.Wrap(s.logger, "docstore", mux)
}

func (s *Store) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := documentID(r.URL.Path)
	if id == "" {
		httpserver.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "document id is required"})
		return
	}

	ex := &exchange{method: r.Method, id: id, reply: make(chan Response, 1)}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		// A null value is a valid write; only a missing key is rejected.
		var body map[string]json.RawMessage
		dec := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes))
		if err := dec.Decode(&body); err != nil {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
			return
		}
		raw, ok := body["value"]
		if !ok {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "value is required"})
			return
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid value"})
			return
		}
		ex.value = value
	default:
		w.Header().Set("Allow", "GET, PUT")
		httpserver.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	select {
	case s.pending <- ex:
	case <-s.done:
		httpserver.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "document store closed"})
		return
	case <-r.Context().Done():
		return
	}

	select {
	case resp := <-ex.reply:
		httpserver.WriteJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
	}
}

// ServeOne applies at most one pending request, waiting no longer than
// timeout for one to arrive. It reports whether a request was served.
func (s *Store) ServeOne(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case ex := <-s.pending:
			s.apply(ex)
			return true, nil
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ex := <-s.pending:
		s.apply(ex)
		return true, nil
	case <-timer.C:
		return false, nil
	case <-s.done:
		return false, errors.New("document store closed")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Store) apply(ex *exchange) {
	s.mu.Lock()
	if ex.method == http.MethodPut {
		s.docs[ex.id] = ex.value
		s.logger.Debug("document stored", "document_id", ex.id)
	}
	value, ok := s.docs[ex.id]
	s.mu.Unlock()
	if !ok {
		value = ""
	}
	ex.reply <- Response{
		DocumentID:     ex.id,
		Value:          value,
		ValueTruncated: false,
		OrganisationID: s.cfg.OrganisationID,
		GroupIDs:       []string{},
	}
}

// Documents returns a copy of the document table.
func (s *Store) Documents() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.docs))
	for id, v := range s.docs {
		out[id] = v
	}
	return out
}

// Close rejects waiting requests and shuts the listener down. Safe to call
// more than once.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		if s.srv != nil {
			err = s.srv.Shutdown(ctx)
		}
	})
	return err
}

func documentID(path string) string {
	if !strings.HasPrefix(path, documentsPath) {
		return ""
	}
	rest := strings.Trim(strings.TrimPrefix(path, documentsPath), "/")
	if rest == "" {
		return ""
	}
	parts := strings.Split(rest, "/")
	return parts[len(parts)-1]
}
