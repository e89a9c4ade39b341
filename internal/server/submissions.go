package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/joelkehle/greenlight/internal/manuscript"
	"github.com/joelkehle/greenlight/internal/report"
	"github.com/joelkehle/greenlight/internal/store"
)

func (s *Server) loadSubmission(w http.ResponseWriter, r *http.Request) (store.Submission, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	sub, err := s.store.GetSubmission(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return store.Submission{}, false
	}
	if err != nil {
		s.log.Error("load submission failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load submission")
		return store.Submission{}, false
	}
	return sub, true
}

func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	payload := map[string]any{"submission": sub}
	if sub.Metadata != "" {
		payload["metadata"] = json.RawMessage(sub.Metadata)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSubmissionPDF(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "pdf renderer unavailable")
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	if sub.Status != store.StatusCompleted {
		writeError(w, http.StatusNotFound, "report not ready")
		return
	}

	doc := report.Document{
		SubmissionID: sub.ID,
		TimeRange:    sub.TimeRange,
		Chunks:       sub.Chunks,
		CompletedAt:  sub.UpdatedAt,
		Text:         sub.Report,
	}
	var meta manuscript.Metadata
	if sub.Metadata != "" && json.Unmarshal([]byte(sub.Metadata), &meta) == nil {
		doc.CutoffYear = meta.CutoffYear
		if !meta.CompletedAt.IsZero() {
			doc.CompletedAt = meta.CompletedAt
		}
	}

	pdf, err := s.renderer.Render(r.Context(), doc)
	if err != nil {
		s.log.Error("render report pdf failed", "id", sub.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to render pdf")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "manuscript-analysis-"+sanitizeFilename(sub.ID)+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
}
