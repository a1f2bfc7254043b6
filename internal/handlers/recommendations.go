package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bookrec/internal/catalog"
	"bookrec/internal/recommend"
	"bookrec/pkg/logging/logging"
)

// MaxLimit bounds the limit query parameter.
const MaxLimit = 50

// Recommender is the part of the recommendation pipeline the handler needs.
type Recommender interface {
	Recommend(ctx context.Context, userID string, opts recommend.Options) ([]recommend.Candidate, error)
}

// RecommendationHandler serves GET /v1/users/{userID}/recommendations.
type RecommendationHandler struct {
	Recommender Recommender
}

func NewRecommendationHandler(r Recommender) *RecommendationHandler {
	return &RecommendationHandler{Recommender: r}
}

type recommendationsResponse struct {
	UserID          string                `json:"userId"`
	Genre           string                `json:"genre,omitempty"`
	Count           int                   `json:"count"`
	Recommendations []recommend.Candidate `json:"recommendations"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Recommendations accepts the query parameters limit, genre and refresh.
func (h *RecommendationHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "user id is required"})
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		logger.Warn("invalid recommendation query", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	list, err := h.Recommender.Recommend(ctx, userID, opts)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "user not found"})
		return
	case err != nil:
		logger.Error("recommendation failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
		return
	}

	logger.Info("recommendations served",
		zap.String("user_id", userID),
		zap.String("genre", opts.Genre),
		zap.Bool("force_refresh", opts.ForceRefresh),
		zap.Int("count", len(list)),
		zap.Duration("total_latency", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, recommendationsResponse{
		UserID:          userID,
		Genre:           opts.Genre,
		Count:           len(list),
		Recommendations: list,
	})
}

func parseOptions(r *http.Request) (recommend.Options, error) {
	q := r.URL.Query()
	opts := recommend.Options{Genre: q.Get("genre")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxLimit {
			return opts, errors.New("limit must be an integer between 1 and " + strconv.Itoa(MaxLimit))
		}
		opts.Limit = n
	}

	if raw := q.Get("refresh"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("refresh must be a boolean")
		}
		opts.ForceRefresh = b
	}

	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
