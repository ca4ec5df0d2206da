package handler

import (
	"net/http"

	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

func (h *Handler) handleSubmissionView(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "submissionID")
	if !ok {
		return
	}
	view, err := h.store.GetSubmissionView(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if view == nil {
		writeMessage(w, r, http.StatusNotFound, "SubmissionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListReviews lists short answers for review. The filter query
// parameter is pending (default), ai or all.
func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	f := store.ReviewFilter(r.URL.Query().Get("filter"))
	switch f {
	case "":
		f = store.ReviewPending
	case store.ReviewPending, store.ReviewAIGraded, store.ReviewAll:
	default:
		writeMessage(w, r, http.StatusBadRequest, "UnknownFilter")
		return
	}
	items, err := h.store.ListReviewItems(f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleApplyReview(w http.ResponseWriter, r *http.Request) {
	var rev grading.Review
	if !decodeJSON(w, r, &rev) {
		return
	}
	res, err := h.exam.ApplyReview(r.Context(), rev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.store.ListStudentHistory()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hist == nil {
		hist = []model.StudentHistory{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ExportResults()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="results.json"`)
	writeJSON(w, http.StatusOK, out)
}
