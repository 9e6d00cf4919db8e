package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BrandonDHaskell/qrpass/internal/metrics"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/artifact"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/service"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
)

const defaultMaxCaptureBytes = 10 << 20

type Dependencies struct {
	Logger    *log.Logger
	Addr      string
	Pipeline  *service.Pipeline
	Users     *service.UserService
	Artifacts *artifact.Lifecycle
	Metrics   *metrics.Metrics // optional; /metrics is not mounted without it

	// PublicBaseURL prefixes artifact links.  Empty means relative links.
	PublicBaseURL   string
	MaxCaptureBytes int64
	// CaptureAsync answers captures before evaluation finishes.
	CaptureAsync bool
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	router     chi.Router
	pipeline   *service.Pipeline
	users      *service.UserService
	artifacts  *artifact.Lifecycle

	publicBaseURL   string
	maxCaptureBytes int64
	captureAsync    bool
}

func NewServer(d Dependencies) *Server {
	r := chi.NewRouter()

	s := &Server{
		logger:          d.Logger,
		router:          r,
		pipeline:        d.Pipeline,
		users:           d.Users,
		artifacts:       d.Artifacts,
		publicBaseURL:   d.PublicBaseURL,
		maxCaptureBytes: d.MaxCaptureBytes,
		captureAsync:    d.CaptureAsync,
	}
	if s.maxCaptureBytes <= 0 {
		s.maxCaptureBytes = defaultMaxCaptureBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(d.Logger))

	r.Get("/healthz", s.handleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Post("/v1/auth/register", s.handleRegister)
	r.Post("/v1/captures", s.handleCapture)
	r.Get("/artifacts/{name}", s.handleArtifact)

	r.Group(func(r chi.Router) {
		r.Use(requireUser(s.users, s.logger))
		r.Post("/v1/auth/login", s.handleLogin)
		r.Get("/v1/credentials/show", s.handleShowCredential)
		r.Post("/v1/door/{command}", s.handleDoor)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "server_time": serverTime()})
}

type registerRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	err := s.users.Register(r.Context(), req.Login, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "login": req.Login})
	case errors.Is(err, service.ErrInvalidLogin):
		writeError(w, http.StatusBadRequest, "invalid_login", err.Error())
	case errors.Is(err, store.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", "login already taken")
	default:
		s.logger.Error("register error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "login": userFrom(r.Context())})
}

func (s *Server) handleShowCredential(w http.ResponseWriter, r *http.Request) {
	login := userFrom(r.Context())

	issued, err := s.pipeline.IssueCredential(r.Context(), login)
	if err != nil {
		s.logger.Error("issue credential failed", "login", login, "err", err)
		writeError(w, http.StatusInternalServerError, "could_not_generate_credential", "could not generate credential")
		return
	}

	writeJSON(w, http.StatusOK, issueResponse(issued, s.publicBaseURL))
}

// handleCapture takes the raw image as the request body.  The response only
// ever says whether the door opened.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxCaptureBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "capture exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_body", "could not read capture")
		return
	}

	if s.captureAsync {
		if _, err := s.pipeline.SubmitCapturedImageAsync(r.Context(), body); err != nil {
			s.writeCaptureError(w, r, err)
			return
		}
		writeCapture(w, r, http.StatusAccepted, pendingResponse())
		return
	}

	res, err := s.pipeline.SubmitCapturedImage(r.Context(), body)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeCapture(w, r, http.StatusOK, captureResponse(res))
}

func (s *Server) writeCaptureError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrEmptyCapture) {
		writeError(w, http.StatusBadRequest, "empty_capture", "capture is empty")
		return
	}
	s.logger.Error("capture failed", "err", err)
	writeCapture(w, r, http.StatusInternalServerError, deniedResponse())
}

// handleArtifact serves generated codes only; captures never leave the host.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.artifacts.Resolve(artifact.KindGenerated, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	f, err := s.artifacts.Open(a)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, a.Name, a.CreatedAt, f)
}

func (s *Server) handleDoor(w http.ResponseWriter, r *http.Request) {
	cmd, err := actuator.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_command", err.Error())
		return
	}

	if err := s.pipeline.Door(r.Context(), cmd); err != nil {
		s.logger.Error("door command failed", "command", cmd, "login", userFrom(r.Context()), "err", err)
		writeError(w, http.StatusBadGateway, "actuator_error", "door controller did not acknowledge")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "command": string(cmd)})
}
