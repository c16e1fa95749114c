// Package api exposes the session operations over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/titlereportflow/internal/artifacts"
	"github.com/Lllllllleong/titlereportflow/internal/models"
	"github.com/Lllllllleong/titlereportflow/internal/services"
	"github.com/Lllllllleong/titlereportflow/internal/session"
)

// MaxUploadBytes bounds the size of an uploaded document.
const MaxUploadBytes = 200 << 20

// Sessions is the part of the orchestrator the HTTP surface drives.
type Sessions interface {
	CreateSession(ctx context.Context, filename string, document io.Reader) (string, error)
	StartReport(ctx context.Context, id string, req models.ReportRequest) error
	Status(ctx context.Context, id string) (*models.Session, error)
	Page(ctx context.Context, id string, number int) (models.Page, error)
	PageImage(ctx context.Context, id string, number int) ([]byte, error)
	UpdatePage(ctx context.Context, id string, number int, text string) error
	Artifact(ctx context.Context, id, kind string) (*services.Artifact, error)
	Cancel(ctx context.Context, id string) error
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type handler struct {
	sessions Sessions
	logger   *slog.Logger
}

type routerOptions struct {
	allowedOrigins []string
}

// Option configures the router.
type Option func(*routerOptions)

// WithAllowedOrigins sets the origins browsers may call the API from. "*"
// admits any origin. With no origins, no CORS headers are sent.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *routerOptions) { o.allowedOrigins = origins }
}

// NewRouter builds the HTTP surface over the given sessions.
func NewRouter(sessions Sessions, logger *slog.Logger, opts ...Option) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler{sessions: sessions, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if len(o.allowedOrigins) > 0 {
		r.Use(cors(o.allowedOrigins))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/upload", h.upload)
	r.Get("/status/{sessionID}", h.status)
	r.Get("/pages/{sessionID}/{page}", h.page)
	r.Get("/image/{sessionID}/{page}", h.image)
	r.Put("/update-page/{sessionID}", h.updatePage)
	r.Post("/generate-report/{sessionID}", h.generateReport)
	r.Post("/cancel/{sessionID}", h.cancel)
	r.Get("/download/{sessionID}/{fileType}", h.download)

	return r
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required: %v", services.ErrBadRequest, err))
		return
	}
	defer file.Close()

	id, err := h.sessions.CreateSession(r.Context(), header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UploadResponse{
		SessionID: id,
		Message:   "PDF upload successful. Processing started.",
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponseFromSession(s))
}

func (h *handler) page(w http.ResponseWriter, r *http.Request) {
	n, err := pageParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.sessions.Page(r.Context(), chi.URLParam(r, "sessionID"), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PageResponse{
		PageNumber:     p.Number,
		RawText:        p.RawText,
		TranslatedText: p.TranslatedText,
		EditedText:     p.EditedText,
	})
}

func (h *handler) image(w http.ResponseWriter, r *http.Request) {
	n, err := pageParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := h.sessions.PageImage(r.Context(), chi.URLParam(r, "sessionID"), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ImageResponse{Image: base64.StdEncoding.EncodeToString(img)})
}

func (h *handler) updatePage(w http.ResponseWriter, r *http.Request) {
	var req models.PageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", services.ErrBadRequest, err))
		return
	}
	if err := h.sessions.UpdatePage(r.Context(), chi.URLParam(r, "sessionID"), req.PageNumber, req.EditedText); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{
		Status:  "success",
		Message: fmt.Sprintf("Page %d updated successfully", req.PageNumber),
	})
}

func (h *handler) generateReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req models.ReportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", services.ErrBadRequest, err))
			return
		}
	}
	if req.SessionID != "" && req.SessionID != id {
		h.writeError(w, r, fmt.Errorf("%w: session_id in body does not match path", services.ErrBadRequest))
		return
	}
	req.SessionID = id

	if err := h.sessions.StartReport(r.Context(), id, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Status: "success", Message: "Report generation started"})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Status: "success", Message: "Cancellation requested"})
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	a, err := h.sessions.Artifact(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "fileType"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// pageParam parses the page number. Pages are numbered from 1, so zero or a
// negative number names a page that does not exist.
func pageParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "page")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: page must be an integer, got %q", services.ErrBadRequest, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: page %d", session.ErrPageNotFound, n)
	}
	return n, nil
}

// StatusCode maps a service error onto an HTTP status.
func StatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrPageNotFound),
		errors.Is(err, artifacts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	detail := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed.", "path", r.URL.Path, "requestId", chimiddleware.GetReqID(r.Context()), "error", err)
		detail = "internal server error"
	}
	writeJSON(w, code, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("Request served.",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"durationMs", time.Since(start).Milliseconds(),
				"requestId", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}

// cors answers preflight requests and stamps the CORS headers on responses
// to allowed origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowOrigin := ""
			for _, o := range allowedOrigins {
				if o == "*" {
					allowOrigin = "*"
					break
				}
				if o == origin && origin != "" {
					allowOrigin = origin
				}
			}

			if allowOrigin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowOrigin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				h.Set("Access-Control-Max-Age", "86400")
				if allowOrigin != "*" {
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
