package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

type subscribeRequest struct {
	Email        string `json:"email" validate:"required,email"`
	SubmissionID string `json:"submission_id" validate:"omitempty,uuid"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Email is required"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.SubmissionID = strings.TrimSpace(req.SubmissionID)
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": subscribeMessage(err)})
		return
	}

	created, err := s.store.AddSignup(r.Context(), req.Email, req.SubmissionID)
	if err != nil {
		s.log.Error("save signup failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Error saving email"})
		return
	}
	if created {
		s.metrics.Signup()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Thank you for subscribing!"})
}

func subscribeMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "Email" && fe.Tag() == "required":
		return "Email is required"
	case fe.Field() == "Email":
		return "Invalid email format"
	default:
		return "Invalid submission id"
	}
}

func (s *Server) handleSignupsCSV(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	token := r.Header.Get("X-Admin-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var buf bytes.Buffer
	n, err := s.store.WriteSignupsCSV(r.Context(), &buf)
	if err != nil {
		s.log.Error("export signups failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to export signups")
		return
	}
	s.log.Info("signups exported", "count", n)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="signups.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
