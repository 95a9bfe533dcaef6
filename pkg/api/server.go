package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/caretrust/auditchain/pkg/alert"
	"github.com/caretrust/auditchain/pkg/auth"
	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/ledger"
	"github.com/caretrust/auditchain/pkg/service"
)

// Server is the HTTP and websocket surface over the recording pipeline.
type Server struct {
	svc    *service.Service
	dist   *alert.Distributor
	export *Exporter
	schema *jsonschema.Schema
	log    *slog.Logger
}

// NewServer wires the API over the pipeline and alert distributor.
func NewServer(svc *service.Service, dist *alert.Distributor, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc:    svc,
		dist:   dist,
		export: NewExporter(svc),
		schema: mustCompileActionSchema(),
		log:    log,
	}
}

// Routes assembles the full handler chain: request id, rate limiting,
// then bearer auth around the route mux.
func (s *Server) Routes(validator *auth.Validator, limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/actions", s.handleSubmit)
	mux.HandleFunc("/v1/ledger", s.handleLedger)
	mux.HandleFunc("/v1/ledger/verify", s.handleVerify)
	mux.HandleFunc("/v1/ledger/export", s.handleExport)
	mux.HandleFunc("/v1/alerts/stream", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealth)

	var h http.Handler = mux
	h = auth.Middleware(validator, WriteUnauthorized)(h)
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = AccessLog(s.log, h)
	return auth.RequestIDMiddleware(h)
}

// submission is the POST /v1/actions request body.
type submission struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actor_id"`
	ActorRole string          `json:"actor_role"`
	SubjectID string          `json:"subject_id"`
	Kind      string          `json:"kind"`
	Purpose   string          `json:"purpose"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// submitResponse acknowledges a durably recorded action.
type submitResponse struct {
	Sequence uint64              `json:"sequence"`
	Digest   string              `json:"digest"`
	Verdicts []contracts.Verdict `json:"verdicts"`
	Severity contracts.Severity  `json:"severity"`
	Recorded time.Time           `json:"recorded_at"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return
	}
	if err := validateSubmission(s.schema, raw); err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}

	var req submission
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	action := contracts.Action{
		ActorID:   req.ActorID,
		ActorRole: req.ActorRole,
		SubjectID: req.SubjectID,
		Kind:      contracts.ActionKind(req.Kind),
		Purpose:   req.Purpose,
		Payload:   req.Payload,
		Timestamp: req.Timestamp,
	}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			WriteBadRequest(w, "id must be a UUID")
			return
		}
		action.ID = id
	} else {
		action.ID = uuid.New()
	}

	entry, err := s.svc.Record(r.Context(), action)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicateAction):
		WriteConflict(w, fmt.Sprintf("action %s is already recorded", action.ID))
		return
	case errors.Is(err, service.ErrInvalidAction):
		WriteUnprocessable(w, err.Error())
		return
	default:
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(submitResponse{
		Sequence: entry.Sequence,
		Digest:   entry.Digest,
		Verdicts: entry.Verdicts,
		Severity: contracts.MaxSeverity(entry.Verdicts),
		Recorded: entry.RecordedAt,
	})
}

// ledgerResponse is the GET /v1/ledger response body.
type ledgerResponse struct {
	Entries      []ledger.Entry `json:"entries"`
	HeadSequence uint64         `json:"head_sequence"`
	HeadDigest   string         `json:"head_digest"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	from, to, err := rangeParams(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	entries, err := s.svc.Entries(r.Context(), from, to)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	seq, digest := s.svc.Head()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ledgerResponse{
		Entries:      entries,
		HeadSequence: seq,
		HeadDigest:   digest,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	from, to, err := rangeParams(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	report, err := s.svc.Verify(r.Context(), from, to)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	from, to, err := rangeParams(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	pack, checksum, err := s.export.GeneratePack(r.Context(), from, to)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence-pack.zip"`)
	w.Header().Set("X-Content-Checksum", "sha256:"+checksum)
	_, _ = w.Write(pack)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seq, digest := s.svc.Head()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"head_sequence": seq,
		"head_digest":   digest,
	})
}

// rangeParams parses optional from/to query parameters. Zero values
// clamp to the chain's extent downstream.
func rangeParams(r *http.Request) (from, to uint64, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("from must be an unsigned integer")
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("to must be an unsigned integer")
		}
	}
	if from != 0 && to != 0 && from > to {
		return 0, 0, fmt.Errorf("from must not exceed to")
	}
	return from, to, nil
}
