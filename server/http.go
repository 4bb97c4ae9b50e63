// Package server exposes the sealing and verification pipelines over HTTP
// and, for agent integrations, over MCP.
//
// The HTTP surface is deliberately small: POST /sign-archival produces a
// sealed artifact from a finalized PDF and its content payload, POST /audit
// verifies an artifact and returns the VerificationReport. Input validation
// failures are rejected before any pipeline stage runs and never become
// findings; pipeline failures are opaque to the caller.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/bind"
	"github.com/ramiradwan/simple-legal-doc/core/report"
	"github.com/ramiradwan/simple-legal-doc/core/seal"
)

// Response headers set by the handlers.
const (
	HeaderCorrelationID     = "X-Correlation-ID"
	HeaderSignerBackend     = "X-Signer-Backend"
	HeaderSignatureStandard = "X-Signature-Standard"
	HeaderSealDowngraded    = "X-Seal-Downgraded"
)

const shutdownGrace = 10 * time.Second

// Server serves the sealing and verification pipelines.
type Server struct {
	addr        string
	maxUpload   int64
	sealer      *seal.Sealer
	coordinator *core.Coordinator
	reporter    *report.JSONReporter
	log         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address (default ":8480").
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithMaxUpload caps the request body size in bytes (default 32 MiB).
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New assembles a Server over the given pipelines.
func New(sealer *seal.Sealer, coordinator *core.Coordinator, version string, opts ...Option) *Server {
	s := &Server{
		addr:        ":8480",
		maxUpload:   32 << 20,
		sealer:      sealer,
		coordinator: coordinator,
		reporter:    report.NewJSONReporter(version),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sign-archival", s.handleSignArchival)
	mux.HandleFunc("POST /audit", s.handleAudit)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests within the shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", s.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleSignArchival accepts a multipart form with an "artifact" PDF part
// and a "payload" JSON part, binds the payload, seals the result, and
// returns the sealed artifact bytes.
func (s *Server) handleSignArchival(w http.ResponseWriter, r *http.Request) {
	cid := uuid.NewString()
	w.Header().Set(HeaderCorrelationID, cid)
	log := s.log.With("correlation_id", cid)

	artifact, payload, ok := s.readUpload(w, r, log, true)
	if !ok {
		return
	}

	bound, err := bind.NewBinder(bind.WithLogger(log)).Bind(artifact, payload)
	if err != nil {
		// Canonicalization and rebinding problems are caller errors and
		// must stay distinguishable from seal failures.
		log.Warn("binding rejected", "error", err)
		http.Error(w, fmt.Sprintf("binding failed: %v", err), http.StatusUnprocessableEntity)
		return
	}

	res, err := s.sealer.Seal(r.Context(), bound.Artifact)
	if err != nil {
		log.Error("sealing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderSignerBackend, res.Backend)
	w.Header().Set(HeaderSignatureStandard, res.Standard)
	if res.Downgraded {
		w.Header().Set(HeaderSealDowngraded, res.Reason)
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Artifact)
	log.Info("artifact sealed", "state", res.State, "standard", res.Standard, "bytes", len(res.Artifact))
}

// handleAudit accepts a multipart form with an "artifact" PDF part, runs
// the verification pipeline, and returns the VerificationReport as JSON.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	cid := uuid.NewString()
	w.Header().Set(HeaderCorrelationID, cid)
	log := s.log.With("correlation_id", cid)

	artifact, _, ok := s.readUpload(w, r, log, false)
	if !ok {
		return
	}

	rep := s.coordinator.Verify(r.Context(), artifact)
	data, err := s.reporter.Generate(rep)
	if err != nil {
		log.Error("report generation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	log.Info("audit complete", "recommendation", rep.Recommendation, "findings", len(rep.Findings))
}

// readUpload parses and validates the multipart upload. Oversize requests
// get 413, non-PDF artifacts 415, empty parts 422. The error response has
// already been written when ok is false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, log *slog.Logger, wantPayload bool) (artifact, payload []byte, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, nil, false
		}
		http.Error(w, "expected multipart form data", http.StatusBadRequest)
		return nil, nil, false
	}

	artifact, err := formPart(r, "artifact")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}
	if len(artifact) == 0 {
		http.Error(w, "artifact part is empty", http.StatusUnprocessableEntity)
		return nil, nil, false
	}
	if !bytes.HasPrefix(artifact, []byte("%PDF-")) {
		http.Error(w, "artifact part is not a PDF", http.StatusUnsupportedMediaType)
		return nil, nil, false
	}

	if wantPayload {
		payload, err = formPart(r, "payload")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, nil, false
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			http.Error(w, "payload part is empty", http.StatusUnprocessableEntity)
			return nil, nil, false
		}
	}

	log.Debug("upload accepted", "artifact_bytes", len(artifact), "payload_bytes", len(payload))
	return artifact, payload, true
}

func formPart(r *http.Request, name string) ([]byte, error) {
	f, _, err := r.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("missing %q part", name)
		}
		return nil, fmt.Errorf("reading %q part: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
