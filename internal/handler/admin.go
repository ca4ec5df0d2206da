package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examgrader/internal/model"
)

const probeTimeout = 30 * time.Second

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=64"`
	DisplayName string         `json:"display_name" validate:"max=100"`
	Password    string         `json:"password" validate:"required,min=8,max=72"`
	Role        model.UserRole `json:"role" validate:"required,oneof=teacher admin"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.exam.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	existing, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		writeMessage(w, r, http.StatusConflict, "UserExists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("created user", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	if me := model.UserFromContext(r.Context()); me != nil && me.ID == id {
		writeMessage(w, r, http.StatusBadRequest, "CannotDisableSelf")
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.exam.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.UpdatePassword(id, string(hash)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type aiStatus struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Message  string `json:"message"`
}

// handleAIStatus reports the outcome of the startup configuration check.
// It never reaches the network.
func (h *Handler) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil {
		writeJSON(w, http.StatusOK, aiStatus{Message: "AI grading is not configured"})
		return
	}
	writeJSON(w, http.StatusOK, aiStatus{
		Enabled:  h.ai.Enabled(),
		Provider: h.ai.Provider(),
		Model:    h.ai.Model(),
		Message:  h.ai.Status(),
	})
}

type probeResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (h *Handler) handleAIProbe(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil {
		writeJSON(w, http.StatusOK, probeResult{Message: "AI grading is not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	ok, msg := h.ai.Probe(ctx)
	slog.Info("AI connection probe", "provider", h.ai.Provider(), "ok", ok, "message", msg)
	writeJSON(w, http.StatusOK, probeResult{OK: ok, Message: msg})
}
