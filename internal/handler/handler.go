// Package handler exposes the exam workflow as a JSON API.
package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgrader/internal/exam"
	"github.com/pavelanni/examgrader/internal/grading"
	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/importer"
	"github.com/pavelanni/examgrader/internal/metrics"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

const maxUploadSize = 10 << 20

// AIStatus is the external grader as the API reports it. *llm.Client
// implements it.
type AIStatus interface {
	Enabled() bool
	Status() string
	Provider() string
	Model() string
	Probe(ctx context.Context) (bool, string)
}

// Config holds HTTP-level settings.
type Config struct {
	BasePath      string
	SecureCookies bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exam     *exam.Service
	importer *importer.Importer
	ai       AIStatus
	config   Config
}

// New creates a new Handler. ai may be nil when no external grader is
// configured.
func New(s *store.Store, svc *exam.Service, im *importer.Importer, ai AIStatus, cfg Config) *Handler {
	return &Handler{store: s, exam: svc, importer: im, ai: ai, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(metrics.Middleware)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Post("/student/start", h.handleStudentStart)
		r.Get("/presets/public", h.handlePublicPresets)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Get("/exam", h.handleDraw)
				r.Post("/exam/submit", h.handleSubmit)
				r.Get("/history", h.handleMyHistory)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
				h.teacherRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/admin/users", h.handleListUsers)
				r.Post("/admin/users", h.handleCreateUser)
				r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
				r.Post("/admin/users/{userID}/password", h.handleSetPassword)
			})
		})
	})
}

func (h *Handler) teacherRoutes(r chi.Router) {
	r.Get("/banks", h.handleListBanks)
	r.Post("/banks", h.handleCreateBank)
	r.Post("/banks/import", h.handleImport)
	r.Get("/banks/{bankID}", h.handleGetBank)
	r.Patch("/banks/{bankID}", h.handleRenameBank)
	r.Delete("/banks/{bankID}", h.handleDeleteBank)
	r.Get("/banks/{bankID}/export", h.handleExportBank)
	r.Get("/banks/{bankID}/questions", h.handleListQuestions)
	r.Post("/banks/{bankID}/questions", h.handleCreateQuestion)
	r.Get("/questions/{questionID}", h.handleGetQuestion)
	r.Put("/questions/{questionID}", h.handleUpdateQuestion)
	r.Delete("/questions/{questionID}", h.handleDeleteQuestion)
	r.Delete("/questions", h.handleClearQuestions)

	r.Get("/tests", h.handleListTests)
	r.Post("/tests", h.handleConfigure)
	r.Get("/tests/active", h.handleActiveTest)
	r.Delete("/tests/{testID}", h.handleDeleteTest)
	r.Get("/tests/{testID}/statistics", h.handleStatistics)
	r.Get("/presets", h.handleListPresets)
	r.Post("/presets", h.handleCreatePreset)
	r.Get("/presets/{presetID}", h.handleGetPreset)
	r.Delete("/presets/{presetID}", h.handleDeletePreset)

	r.Get("/submissions/{submissionID}", h.handleSubmissionView)
	r.Get("/reviews", h.handleListReviews)
	r.Post("/reviews", h.handleApplyReview)
	r.Get("/students/history", h.handleAllHistory)
	r.Get("/results/export", h.handleExportResults)

	r.Get("/ai/status", h.handleAIStatus)
	r.Post("/ai/probe", h.handleAIProbe)
}

// BasePathMiddleware injects the configured base path into the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// writeMessage writes a translated error message.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorBody{Error: appI18n.T(r.Context(), msgID)})
}

// writeError maps err to a status code and a translated message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *exam.ValidationError
		colErr *importer.ColumnError
		perr   *grading.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: appI18n.T(r.Context(), "InvalidInput"), Problems: verr.Problems})
	case errors.As(err, &colErr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:    appI18n.Td(r.Context(), "MissingColumns", map[string]any{"Columns": strings.Join(colErr.Missing, ", ")}),
			Problems: colErr.Missing,
		})
	case errors.As(err, &perr):
		slog.Error("write failed", "op", perr.Op, "error", perr.Err)
		writeMessage(w, r, http.StatusServiceUnavailable, "SaveFailed")
	case errors.Is(err, exam.ErrNoTest):
		writeMessage(w, r, http.StatusNotFound, "NoTest")
	case errors.Is(err, exam.ErrPresetNotFound):
		writeMessage(w, r, http.StatusNotFound, "PresetNotFound")
	case errors.Is(err, exam.ErrChoiceNotAllowed):
		writeMessage(w, r, http.StatusForbidden, "ChoiceNotAllowed")
	case errors.Is(err, grading.ErrSubmissionNotFound):
		writeMessage(w, r, http.StatusNotFound, "SubmissionNotFound")
	case errors.Is(err, grading.ErrQuestionNotFound):
		writeMessage(w, r, http.StatusNotFound, "QuestionNotFound")
	case errors.Is(err, grading.ErrNotShortAnswer):
		writeMessage(w, r, http.StatusBadRequest, "NotShortAnswer")
	case errors.Is(err, grading.ErrScoreOutOfRange):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: appI18n.T(r.Context(), "ScoreOutOfRange"), Problems: []string{err.Error()}})
	case errors.Is(err, importer.ErrUnsupportedFormat):
		writeMessage(w, r, http.StatusBadRequest, "UnsupportedFormat")
	case errors.Is(err, importer.ErrEmptyFile):
		writeMessage(w, r, http.StatusBadRequest, "EmptyFile")
	case errors.Is(err, sql.ErrNoRows):
		writeMessage(w, r, http.StatusNotFound, "NotFound")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "InternalError")
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: appI18n.T(r.Context(), "InvalidBody"), Problems: []string{err.Error()}})
		return false
	}
	return true
}

// idParam parses a positive integer URL parameter.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, r, http.StatusBadRequest, "InvalidID")
		return 0, false
	}
	return id, true
}

// clientIP returns the first X-Forwarded-For hop, or the remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
