package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const (
	defaultReviewLimit = 100
	maxReviewLimit     = 1000
	reviewsTimeout     = 5 * time.Second
)

// ReviewHandler exposes the stored record set of a subject.
type ReviewHandler struct {
	store   harvest.RecordStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewReviewHandler wires the record store and logger.
func NewReviewHandler(store harvest.RecordStore, logger *zap.Logger) *ReviewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewHandler{
		store:   store,
		timeout: reviewsTimeout,
		logger:  logger,
	}
}

// ListReviews handles GET /v1/subjects/{subject_id}/reviews?limit=&offset=.
// It returns {"subject_id", "total", "reviews": [...]} ordered by insertion,
// 400 for a malformed subject or paging parameters, 503 without a store, or 500
// when the store fails.
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "review store unavailable")
		return
	}
	subjectID := chi.URLParam(r, "subject_id")
	if err := harvest.ValidateSubjectID(subjectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultReviewLimit, maxReviewLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.store.FetchAll(ctx, subjectID)
	if err != nil {
		h.logger.Error("fetch reviews failed", zap.String("subject_id", subjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load reviews")
		return
	}
	total := len(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"total":      total,
		"reviews":    toReviewDTOs(page(records, limit, offset)),
	})
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	end := min(offset+limit, len(in))
	return in[offset:end]
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

func toReviewDTOs(in []harvest.StoredRecord) []reviewDTO {
	out := make([]reviewDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, reviewDTO{
			ID:        rec.ID,
			SubjectID: rec.SubjectID,
			Text:      rec.Text,
			Title:     rec.Title,
			Location:  rec.Location,
			Date:      rec.Date.Format(time.DateOnly),
			Verified:  rec.Verified,
			Rating:    rec.Rating,
		})
	}
	return out
}

type reviewDTO struct {
	ID        int64   `json:"id"`
	SubjectID string  `json:"subject_id"`
	Text      string  `json:"text"`
	Title     string  `json:"title"`
	Location  string  `json:"location"`
	Date      string  `json:"date"`
	Verified  bool    `json:"verified"`
	Rating    float64 `json:"rating"`
}
