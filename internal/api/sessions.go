package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearsay-labs/hearsay/internal/pipeline"
	"github.com/hearsay-labs/hearsay/internal/session"
	"github.com/hearsay-labs/hearsay/internal/store"
)

// updateRequest is the payload of the update-transcript operation. Fragment
// entries are raw provider or client objects; normalization happens inside
// the pipeline.
type updateRequest struct {
	Fragment []any          `json:"fragment"`
	Hints    pipeline.Hints `json:"hints"`
}

// sessionResponse is returned by every session operation. Degraded
// conditions surface in Outcome with a 200, never as an HTTP error.
type sessionResponse struct {
	SessionID        string                       `json:"session_id"`
	Status           session.Status               `json:"status"`
	TranscriptLength int                          `json:"transcript_length"`
	NewEntries       int                          `json:"new_entries,omitempty"`
	HasSummary       bool                         `json:"has_summary"`
	HasProfile       bool                         `json:"has_profile"`
	CallID           string                       `json:"call_id,omitempty"`
	Outcome          pipeline.Outcome             `json:"outcome,omitempty"`
	Summary          *session.Summary             `json:"summary,omitempty"`
	Profile          *session.PsychometricProfile `json:"profile,omitempty"`
}

func toResponse(res *pipeline.Result) sessionResponse {
	s := res.Session
	return sessionResponse{
		SessionID:        s.ID,
		Status:           s.Status,
		TranscriptLength: len(s.Transcript),
		NewEntries:       res.NewEntries,
		HasSummary:       s.HasSummary(),
		HasProfile:       s.HasProfile(),
		CallID:           s.CallID,
		Outcome:          res.Outcome,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var params pipeline.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	sess, err := s.pipeline.CreateSession(r.Context(), params)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:        sess.ID,
		Status:           sess.Status,
		TranscriptLength: len(sess.Transcript),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.pipeline.GetSession(r.Context(), id)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	resp := toResponse(&pipeline.Result{Session: res})
	resp.Summary = res.Summary
	resp.Profile = res.Profile
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res, err := s.pipeline.UpdateTranscript(r.Context(), id, req.Fragment, req.Hints)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.pipeline.CompleteSession(r.Context(), id)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// streamTranscript serves the live polling loop over SSE: a data event per
// transcript delta, a heartbeat comment every 15s, stopping when the client
// goes away.
func (s *Server) streamTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	deltas := make(chan []session.TranscriptEntry, 8)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.pipeline.StreamTranscript(ctx, id, pipeline.DefaultPollInterval, func(batch []session.TranscriptEntry) {
			select {
			case deltas <- batch:
			case <-ctx.Done():
			}
		})
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
				flusher.Flush()
			}
			return
		case batch := <-deltas:
			payload, err := json.Marshal(batch)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writePipelineError maps pipeline errors onto the only two hard HTTP error
// categories: missing session id and unknown session.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrMissingSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
