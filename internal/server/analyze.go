package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/joelkehle/greenlight/internal/ingest"
	"github.com/joelkehle/greenlight/internal/manuscript"
	"github.com/joelkehle/greenlight/internal/store"
)

const maxJSONBody = 25 << 20

type analyzeRequest struct {
	Text      string `json:"text"`
	TimeRange string `json:"time_range"`
}

type analyzeResponse struct {
	Result       string               `json:"result"`
	SubmissionID string               `json:"submission_id"`
	TimeRange    manuscript.TimeRange `json:"time_range"`
	Chunks       int                  `json:"chunks"`
	Metadata     manuscript.Metadata  `json:"metadata"`
	File         *fileInfo            `json:"file,omitempty"`
}

type fileInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Words  int    `json:"words"`
	Size   int    `json:"size"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	tr, err := manuscript.ParseTimeRange(req.TimeRange)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	s.analyze(w, r, ingest.FromText(req.Text), tr, nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}
	tr, err := manuscript.ParseTimeRange(r.FormValue("time_range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
		return
	}
	doc, err := ingest.Extract(r.Context(), header.Filename, data)
	if err != nil {
		s.log.Warn("upload extraction failed", "file", header.Filename, "err", err)
		writeError(w, extractStatus(err), "Upload error: "+err.Error())
		return
	}
	s.analyze(w, r, doc, tr, &fileInfo{
		Name:   doc.Name,
		Kind:   doc.Kind,
		Method: doc.Method,
		Words:  doc.Words,
		Size:   len(data),
	})
}

func extractStatus(err error) int {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrNoText):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// analyze records a submission, runs the pipeline and stores the outcome.
// Persistence outlives the request so a dropped client still leaves a record.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request, doc ingest.Document, tr manuscript.TimeRange, file *fileInfo) {
	persistCtx := context.WithoutCancel(r.Context())
	sub, err := s.store.CreateSubmission(persistCtx, store.NewSubmission{
		Source:    doc.Kind,
		Filename:  doc.Name,
		TimeRange: string(tr),
		Words:     doc.Words,
	})
	if err != nil {
		s.log.Error("create submission failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	log := s.log.With("submission_id", sub.ID, "time_range", tr)
	log.Info("analysis started", "source", doc.Kind, "words", doc.Words)

	rep, err := s.analyzer.Run(r.Context(), doc.Text, tr)
	if err != nil {
		status, msg := analysisFailure(err)
		log.Warn("analysis failed", "stage", manuscript.StageNameFromError(err), "kind", manuscript.KindFromError(err), "err", err)
		if ferr := s.store.FailSubmission(persistCtx, sub.ID, msg); ferr != nil {
			log.Error("record failure", "err", ferr)
		}
		writeJSON(w, status, map[string]any{"error": msg, "submission_id": sub.ID})
		return
	}

	meta, _ := json.Marshal(rep.Metadata)
	if err := s.store.CompleteSubmission(persistCtx, sub.ID, rep.Text, string(meta), rep.Chunks); err != nil {
		log.Error("record report", "err", err)
	}
	log.Info("analysis completed", "chunks", rep.Chunks, "upstream_calls", rep.Metadata.UpstreamCalls, "duration_ms", rep.Metadata.DurationMS)
	writeJSON(w, http.StatusOK, analyzeResponse{
		Result:       rep.Text,
		SubmissionID: sub.ID,
		TimeRange:    rep.TimeRange,
		Chunks:       rep.Chunks,
		Metadata:     rep.Metadata,
		File:         file,
	})
}

// analysisFailure maps a pipeline error to a status code and the message
// shown to the caller.
func analysisFailure(err error) (int, string) {
	var ae *manuscript.AnalysisError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, "An unexpected error occurred: " + err.Error()
	}
	switch ae.Kind {
	case manuscript.KindInvalidInput:
		return http.StatusBadRequest, ae.UserMessage()
	case manuscript.KindTimeout:
		return http.StatusGatewayTimeout, ae.UserMessage()
	case manuscript.KindTransport, manuscript.KindUpstream, manuscript.KindMalformed:
		return http.StatusBadGateway, ae.UserMessage()
	case manuscript.KindCanceled:
		return http.StatusServiceUnavailable, ae.UserMessage()
	default:
		return http.StatusInternalServerError, ae.UserMessage()
	}
}
