package http

import (
	"net/http"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.List(r.Context())
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	if records == nil {
		records = core.Collection{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.records.Total(r.Context())
	if err != nil {
		writeError(w, r, applog.OpTotal, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"total": total})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.records.Summary(r.Context())
	if err != nil {
		writeError(w, r, applog.OpSummary, err)
		return
	}
	if summary == nil {
		summary = map[string]float64{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}

	rec, err := s.records.Create(r.Context(), fields)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Record created via API",
		applog.NewFields().WithOperation(applog.OpCreate).WithRecord(rec.ID).ToSlice()...)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}

	rec, err := s.records.Update(r.Context(), id, fields)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.records.Delete(r.Context(), id); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, http.StatusNotFound, msgNotFound)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.ObserveRateLimited()
	}
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	writeErrorMessage(w, http.StatusTooManyRequests, msgRateLimited)
}
