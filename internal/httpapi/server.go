package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/jobs"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/video"
)

const maxRequestBody = 1 << 20

type Server struct {
	Jobs  *jobs.Orchestrator
	Blobs blob.LocalFS
	// Hub backs the websocket event stream; nil disables it.
	Hub        *events.Hub
	BaseURL    string // optional, for generating absolute result URLs
	APIKey     string // when set, every route but /healthz requires X-API-Key
	CORSOrigin string
	Logger     *slog.Logger

	// StreamBuffer is the per-connection event buffer (default 64).
	StreamBuffer int
	// PingInterval paces websocket pings and job state checks (default 54s).
	PingInterval time.Duration
}

func (s Server) Router() http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(cors(s.CORSOrigin))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.APIKey))

		r.Get("/download", s.handleDownload)
		r.Head("/download", s.handleDownload)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Delete("/jobs/{id}", s.handleCancelJob)
			r.Get("/jobs/{id}/logs", s.handleGetLogs)
			r.Get("/jobs/{id}/result", s.handleGetResult)
			r.Head("/jobs/{id}/result", s.handleGetResult)
			r.Get("/jobs/{id}/poster", s.handleGetPoster)
			r.Get("/jobs/{id}/events", s.handleEvents)
		})
	})

	return r
}

func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,POST,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAPIKey accepts the key from the X-API-Key header, or from the
// api_key query parameter for clients (browsers opening websockets) that
// cannot set headers.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeErr(w, http.StatusUnauthorized, errors.New("invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("elapsed", time.Since(start)),
				logging.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	params := model.DefaultParams()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id, err := s.Jobs.CreateJob(r.Context(), params)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+id)
	writeJSON(w, http.StatusCreated, map[string]any{"jobId": id})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(snap, s.BaseURL))
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var status *model.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := model.JobStatus(raw)
		if !parsed.Valid() {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
		status = &parsed
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		if value > 100 {
			value = 100
		}
		limit = value
	}

	snaps, err := s.Jobs.List(ctx, status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]jobView, 0, len(snaps))
	for _, snap := range snaps {
		view := jobResponse(snap, s.BaseURL)
		view.Logs = nil
		resp = append(resp, view)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Jobs.Cancel(r.Context(), id); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": id, "status": "canceling"})
}

func (s Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	tail := 200
	if raw := strings.TrimSpace(r.URL.Query().Get("tail")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid tail: %s", raw))
			return
		}
		tail = value
	}

	lines, err := s.Jobs.Logs(r.Context(), chi.URLParam(r, "id"), tail)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		_, _ = io.WriteString(w, line+"\n")
	}
}

func (s Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	f, snap, err := s.Jobs.OpenArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	defer f.Close()

	serveArtifact(w, r, snap.ArtifactKey, f)
}

func (s Server) handleGetPoster(w http.ResponseWriter, r *http.Request) {
	f, snap, err := s.Jobs.OpenPoster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	defer f.Close()

	serveArtifact(w, r, snap.PosterKey, f)
}

// handleDownload serves an artifact by name, the way the first version of the
// API exposed results.
func (s Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("path"))
	if err := blob.ValidateName(name); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	f, err := s.Blobs.Open(name)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	defer f.Close()

	serveArtifact(w, r, name, f)
}

func serveArtifact(w http.ResponseWriter, r *http.Request, name string, f *os.File) {
	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", video.ContentTypeForExt(filepath.Ext(name)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeContent(w, r, name, modTime, f)
}

// jobView is the wire form of a job: the snapshot plus derived URLs.
type jobView struct {
	model.Snapshot
	ResultURL string `json:"resultUrl,omitempty"`
	PosterURL string `json:"posterUrl,omitempty"`
}

func jobResponse(snap model.Snapshot, baseURL string) jobView {
	view := jobView{Snapshot: snap}
	base := strings.TrimRight(baseURL, "/")
	if snap.Status == model.JobDone && snap.ArtifactKey != "" {
		view.ResultURL = fmt.Sprintf("%s/v1/jobs/%s/result", base, snap.ID)
	}
	if snap.PosterKey != "" {
		view.PosterURL = fmt.Sprintf("%s/v1/jobs/%s/poster", base, snap.ID)
	}
	return view
}

// statusFor maps an error to its HTTP status through its kind.
func statusFor(err error) int {
	switch model.ErrorKind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "not_ready", "conflict":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error(), "kind": model.ErrorKind(err)})
}
