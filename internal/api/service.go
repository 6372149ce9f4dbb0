// Package api exposes the review service over HTTP and gRPC.
package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/services"
)

// ReviewAPI is the service surface both transports call.
type ReviewAPI interface {
	Review(ctx context.Context, req models.ReviewRequest) (models.ReviewResult, error)
	ReviewBatch(ctx context.Context, req models.BatchReviewRequest) (models.BatchReviewResponse, error)
	CacheStats() models.CacheStats
	History(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error)
	Summary(ctx context.Context, passID string) (models.PassSummary, error)
	Invalidate(ctx context.Context, req models.ReviewRequest) (bool, error)
	PurgeCache()
	Health() services.HealthStatus
}

var _ ReviewAPI = (*services.ReviewService)(nil)

func httpStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrHistoryDisabled), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, services.ErrHistoryDisabled):
		return codes.FailedPrecondition
	case errors.Is(err, models.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}
