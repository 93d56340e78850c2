package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"qaflow/internal/engine"
	"qaflow/internal/llmclient"
	"qaflow/internal/store"
)

type createRunRequest struct {
	Owner    string `json:"owner"`
	Document struct {
		Name      string `json:"name"`
		MediaType string `json:"media_type"`
		Content   string `json:"content"`
	} `json:"document"`
}

type outcomeResponse struct {
	Run      engine.Run        `json:"run"`
	Step     string            `json:"step,omitempty"`
	Skipped  []string          `json:"skipped,omitempty"`
	Artifact *store.Descriptor `json:"artifact,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var in createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	run, err := s.engine.Create(r.Context(), in.Owner, engine.Document{
		Name:      in.Document.Name,
		MediaType: in.Document.MediaType,
		Content:   []byte(in.Document.Content),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleEvictRun(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Registry().Evict(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Advance(r.Context(), r.PathValue("id"))
	s.writeOutcome(w, out, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Retry(r.Context(), r.PathValue("id"))
	s.writeOutcome(w, out, err)
}

// writeOutcome distinguishes controller errors (bad request sequencing) from
// step failures: a failed step still advanced the run's history, so the
// outcome body is returned with the failure attached.
func (s *Server) writeOutcome(w http.ResponseWriter, out engine.StepOutcome, err error) {
	if err != nil && out.Run.ID == "" {
		writeError(w, err)
		return
	}
	resp := outcomeResponse{
		Run:      out.Run,
		Step:     out.Step,
		Skipped:  out.Skipped,
		Artifact: out.Artifact,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	descs, err := s.engine.Artifacts(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    runID,
		"artifacts": descs,
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	version := 0
	if v := strings.TrimSpace(r.URL.Query().Get("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "version must be a positive integer", http.StatusBadRequest)
			return
		}
		version = n
	}
	art, err := s.engine.Artifact(r.Context(), r.PathValue("id"), r.PathValue("step"), r.PathValue("kind"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", art.MediaType)
	w.Header().Set("X-Artifact-Version", strconv.Itoa(art.Version))
	w.Header().Set("X-Artifact-Checksum", art.Checksum)
	_, _ = w.Write(art.Content)
}

func (s *Server) handleArtifactURL(w http.ResponseWriter, r *http.Request) {
	version := 0
	if v := strings.TrimSpace(r.URL.Query().Get("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "version must be a positive integer", http.StatusBadRequest)
			return
		}
		version = n
	}
	url, err := s.engine.ArtifactURL(r.Context(), r.PathValue("id"), r.PathValue("step"), r.PathValue("kind"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	if url == "" {
		http.Error(w, "store does not support download URLs", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var invalid *engine.InvalidInputError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNoSuchRun), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrIllegalState),
		errors.Is(err, engine.ErrRetryExhausted),
		errors.Is(err, engine.ErrRunCancelled),
		errors.Is(err, store.ErrDuplicateVersion):
		status = http.StatusConflict
	case llmclient.Retryable(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
