// Package hooks serves the post-receive endpoint through which git servers
// report pushed commits.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sha1n/relic-commits/internal/commitsearch"
	"github.com/sha1n/relic-commits/internal/domain"
)

const maxBodySize = 10 << 20

// Service is the part of the commit search service the hook needs.
type Service interface {
	Repository(idOrName string) (commitsearch.Repository, error)
	Submit(ctx context.Context, task commitsearch.Task) error
}

// Commit is a pushed commit as reported by the git server.
type Commit struct {
	ID          string   `json:"id"`
	Author      string   `json:"author"`
	Timestamp   int64    `json:"timestamp"`
	Description string   `json:"description"`
	Parents     []string `json:"parents"`
}

// Validate validates a reported commit.
func (c Commit) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Timestamp, validation.Min(int64(0))),
	)
}

// Payload is the body of POST /hooks/commits.
type Payload struct {
	Repository string   `json:"repository"`
	Added      []Commit `json:"added"`
	Removed    []Commit `json:"removed"`
	Reindex    bool     `json:"reindex"`
}

// Validate validates the payload. A delta must add or remove at least one
// commit unless a reindex is requested.
func (p *Payload) Validate() error {
	err := validation.ValidateStruct(p,
		validation.Field(&p.Repository, validation.Required),
		validation.Field(&p.Added),
		validation.Field(&p.Removed),
	)
	if err != nil {
		return err
	}
	if !p.Reindex && len(p.Added) == 0 && len(p.Removed) == 0 {
		return errors.New("added or removed commits are required")
	}
	return nil
}

// Delta converts the payload into a commit delta.
func (p *Payload) Delta() *domain.CommitDelta {
	return &domain.CommitDelta{
		Added:   toCommits(p.Added),
		Removed: toCommits(p.Removed),
	}
}

func toCommits(in []Commit) []domain.Commit {
	out := make([]domain.Commit, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Commit(c))
	}
	return out
}

// Handler handles commit notifications.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the hook routes, to be mounted below /hooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/commits", h.Commits)
	return r
}

// Commits handles POST /hooks/commits.
func (h *Handler) Commits(w http.ResponseWriter, r *http.Request) {
	var p Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON: "+err.Error()))
		return
	}
	if err := p.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	repo, err := h.svc.Repository(p.Repository)
	if err != nil {
		if errors.Is(err, commitsearch.ErrUnknownRepository) {
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
			return
		}
		h.logger.Error("Repository lookup failed", "repository", p.Repository, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	task := commitsearch.Task{Repository: repo, Reindex: p.Reindex}
	if !p.Reindex {
		task.Delta = p.Delta()
	}
	if err := h.svc.Submit(r.Context(), task); err != nil {
		h.logger.Warn("Failed to enqueue commit notification", "repo_id", repo.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
		return
	}

	h.logger.Debug("Commit notification queued", "repo_id", repo.ID,
		"added", len(p.Added), "removed", len(p.Removed), "reindex", p.Reindex)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"repository": repo.ID,
	})
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}
