package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/importer"
	"github.com/pavelanni/examgrader/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type bankRequest struct {
	Name string             `json:"name" validate:"required,max=100"`
	Type model.QuestionType `json:"question_type" validate:"required,oneof=single_choice multiple_choice true_false fill_blank short_answer"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type questionRequest struct {
	Content         string `json:"content" validate:"required"`
	OptionA         string `json:"option_a"`
	OptionB         string `json:"option_b"`
	OptionC         string `json:"option_c"`
	OptionD         string `json:"option_d"`
	OptionE         string `json:"option_e"`
	CorrectAnswer   string `json:"correct_answer"`
	Points          int    `json:"points" validate:"min=0,max=1000"`
	Explanation     string `json:"explanation"`
	UnorderedBlanks bool   `json:"unordered_blanks"`
}

type importResponse struct {
	*importer.Report
	Message string `json:"message"`
}

func (q questionRequest) apply(dst *model.Question) {
	dst.Content = q.Content
	dst.OptionA, dst.OptionB, dst.OptionC, dst.OptionD, dst.OptionE = q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE
	dst.CorrectAnswer = q.CorrectAnswer
	dst.Points = q.Points
	dst.Explanation = q.Explanation
	dst.UnorderedBlanks = q.UnorderedBlanks
}

func (h *Handler) handleListBanks(w http.ResponseWriter, r *http.Request) {
	t := model.QuestionType(r.URL.Query().Get("type"))
	if t != "" && !t.Valid() {
		writeMessage(w, r, http.StatusBadRequest, "UnknownQuestionType")
		return
	}
	banks, err := h.store.ListBanks(t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if banks == nil {
		banks = []model.QuestionBank{}
	}
	writeJSON(w, http.StatusOK, banks)
}

func (h *Handler) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.exam.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.store.CreateBank(req.Name, req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bank, err := h.store.GetBank(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bank)
}

func (h *Handler) handleGetBank(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	bank, err := h.store.GetBank(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bank == nil {
		writeMessage(w, r, http.StatusNotFound, "BankNotFound")
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

func (h *Handler) handleRenameBank(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.exam.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.RenameBank(id, req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteBank(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	if err := h.store.DeleteBank(id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("deleted question bank", "bank_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "FileTooLarge")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "NoFile")
		return
	}
	defer file.Close()

	qtype := model.QuestionType(r.FormValue("question_type"))
	if !qtype.Valid() {
		writeMessage(w, r, http.StatusBadRequest, "UnknownQuestionType")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	rep, err := h.importer.Import(importer.Request{
		BankName: r.FormValue("bank_name"),
		Type:     qtype,
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	switch rep.Status {
	case importer.StatusFailed:
		status = http.StatusUnprocessableEntity
	case importer.StatusDuplicate:
		status = http.StatusOK
	}
	writeJSON(w, status, importResponse{Report: rep, Message: appI18n.Tp(r.Context(), "QuestionsImported", rep.Imported)})
}

func (h *Handler) handleExportBank(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	bank, err := h.store.GetBank(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bank == nil {
		writeMessage(w, r, http.StatusNotFound, "BankNotFound")
		return
	}
	data, name, err := h.importer.ExportBank(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(name))
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write export", "bank_id", id, "error", err)
	}
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	questions, err := h.store.ListQuestions(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

// checkQuestion applies req to q and validates it against q's type. It
// writes the error response when the check fails.
func (h *Handler) checkQuestion(w http.ResponseWriter, r *http.Request, req questionRequest, q *model.Question) bool {
	if err := h.exam.Validate(req); err != nil {
		writeError(w, r, err)
		return false
	}
	req.apply(q)
	checked, err := importer.CheckQuestion(*q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: appI18n.T(r.Context(), "InvalidQuestion"), Problems: []string{err.Error()}})
		return false
	}
	*q = checked
	return true
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	bankID, ok := idParam(w, r, "bankID")
	if !ok {
		return
	}
	bank, err := h.store.GetBank(bankID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bank == nil {
		writeMessage(w, r, http.StatusNotFound, "BankNotFound")
		return
	}
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q := model.Question{BankID: bankID, Type: bank.Type}
	if !h.checkQuestion(w, r, req, &q) {
		return
	}
	id, err := h.store.InsertQuestion(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.store.GetQuestion(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.checkQuestion(w, r, req, &q) {
		return
	}
	if err := h.store.UpdateQuestion(q); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	if err := h.store.DeleteQuestion(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearQuestions deletes every question of the type given in the
// query string.
func (h *Handler) handleClearQuestions(w http.ResponseWriter, r *http.Request) {
	t := model.QuestionType(r.URL.Query().Get("type"))
	if !t.Valid() {
		writeMessage(w, r, http.StatusBadRequest, "UnknownQuestionType")
		return
	}
	n, err := h.store.ClearQuestions(t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("cleared questions", "type", t, "count", n)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
