package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pavelanni/examgrader/internal/exam"
	"github.com/pavelanni/examgrader/internal/model"
)

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var in exam.Settings
	if !decodeJSON(w, r, &in) {
		return
	}
	out, err := h.exam.Configure(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListTests()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tests == nil {
		tests = []model.Test{}
	}
	writeJSON(w, http.StatusOK, tests)
}

func (h *Handler) handleActiveTest(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.exam.ActiveConfig(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	test, err := h.store.GetTest(cfg.TestID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (h *Handler) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "testID")
	if !ok {
		return
	}
	if err := h.exam.DeleteTest(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("deleted test", "test_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "testID")
	if !ok {
		return
	}
	st, err := h.exam.TestStatistics(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.exam.ListPresets()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if presets == nil {
		presets = []model.TestPreset{}
	}
	writeJSON(w, http.StatusOK, presets)
}

func (h *Handler) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var in exam.PresetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.exam.CreatePreset(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "presetID")
	if !ok {
		return
	}
	p, err := h.exam.GetPreset(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "presetID")
	if !ok {
		return
	}
	if err := h.exam.DeletePreset(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePublicPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.exam.PublicPresets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presets)
}

// presetParam reads the optional preset_id query parameter.
func presetParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("preset_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		writeMessage(w, r, http.StatusBadRequest, "InvalidID")
		return 0, false
	}
	return id, true
}

func (h *Handler) handleDraw(w http.ResponseWriter, r *http.Request) {
	presetID, ok := presetParam(w, r)
	if !ok {
		return
	}
	cfg, err := h.exam.ResolveConfig(r.Context(), presetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	paper, err := h.exam.Draw(cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

type submitRequest struct {
	PresetID int64            `json:"preset_id"`
	Answers  map[int64]string `json:"answers"`
}

// handleSubmit grades the answers synchronously. With AI grading the
// request lasts as long as the external calls do.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PresetID < 0 {
		writeMessage(w, r, http.StatusBadRequest, "InvalidID")
		return
	}
	cfg, err := h.exam.ResolveConfig(r.Context(), req.PresetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.exam.Submit(r.Context(), cfg, user.ID, req.Answers, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type studentHistory struct {
	History     *model.StudentHistory `json:"history"`
	Submissions []model.Submission    `json:"submissions"`
}

func (h *Handler) handleMyHistory(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	hist, err := h.store.GetStudentHistory(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subs, err := h.store.ListStudentSubmissions(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, studentHistory{History: hist, Submissions: subs})
}
