package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/pkg/monitor"
)

// Summarizer produces a job summary. *monitor.Aggregator implements it.
type Summarizer interface {
	Summarize(ctx context.Context, user, prefix string) (*monitor.Summary, error)
}

// SummaryHandler serves GET /v1/summary.
//
// Query parameters user and prefix override the configured defaults. An
// explicitly empty prefix (?prefix=) selects every job.
type SummaryHandler struct {
	Summarizer Summarizer
	User       string
	Prefix     string

	// Metrics, when set, is updated with every summary served.
	Metrics *observability.Metrics
}

func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	user := h.User
	if u := strings.TrimSpace(q.Get("user")); u != "" {
		user = u
	}
	if user == "" {
		respondWithError(w, r, apperrors.NewBadRequest("user is required"))
		return
	}
	prefix := h.Prefix
	if _, ok := q["prefix"]; ok {
		prefix = q.Get("prefix")
	}
	recent := -1
	if raw := q.Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.NewBadRequest("recent must be a non-negative integer"))
			return
		}
		recent = n
	}

	s, err := h.Summarizer.Summarize(r.Context(), user, prefix)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.ObserveQueryError()
		}
		respondWithError(w, r, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveSummary(s)
	}

	if recent >= 0 && recent < len(s.Recent) {
		s.Recent = s.Recent[:recent]
	}
	apperrors.WriteJSON(w, http.StatusOK, s)
}
