package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

const (
	defaultSourcesLimit = 100
	maxSourcesLimit     = 1000
	sourcesTimeout      = 3 * time.Second
)

// SourcesHandler exposes read-only crawl progress per source.
type SourcesHandler struct {
	repo    store.SourceRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewSourcesHandler wires the repository and logger.
func NewSourcesHandler(repo store.SourceRepository, logger *zap.Logger) *SourcesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourcesHandler{repo: repo, timeout: sourcesTimeout, logger: logger}
}

// List handles GET /v1/sources?completed=&limit=&offset=. It returns
// {"sources": [...], "total": n} where total counts matches before paging.
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "source repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSourcesLimit, maxSourcesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	completed, err := parseCompleted(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sources, err := h.repo.ListSources(ctx)
	if err != nil {
		h.logger.Error("list sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}

	filtered := make([]sourceDTO, 0, len(sources))
	for _, src := range sources {
		if completed != nil && src.Completed != *completed {
			continue
		}
		filtered = append(filtered, toSourceDTO(src))
	}
	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"sources": filtered[offset:end],
		"total":   total,
	})
}

// Get handles GET /v1/sources/{subdomain}. It returns 404 when the source is
// unknown.
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "source repository unavailable")
		return
	}
	subdomain := strings.TrimSpace(chi.URLParam(r, "subdomain"))
	if subdomain == "" {
		writeError(w, http.StatusBadRequest, "subdomain is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	src, err := h.repo.GetSource(ctx, subdomain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		h.logger.Error("get source failed", zap.String("source", subdomain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": toSourceDTO(src)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseCompleted(r *http.Request) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("completed"))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New("invalid completed filter")
	}
	return &val, nil
}

type sourceDTO struct {
	Subdomain    string     `json:"subdomain"`
	Count        *int64     `json:"count,omitempty"`
	TotalCount   *int64     `json:"total_count,omitempty"`
	Completed    bool       `json:"completed"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	Leased       bool       `json:"leased"`
}

func toSourceDTO(src store.Source) sourceDTO {
	return sourceDTO{
		Subdomain:    src.Subdomain,
		Count:        src.Count,
		TotalCount:   src.TotalCount,
		Completed:    src.Completed,
		LastAccessed: src.LastAccessed,
		Leased:       src.LeaseOwner != "",
	}
}
