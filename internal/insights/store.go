package insights

import (
	"context"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, passID string, summary models.PassSummary) error

// StoreSummary implements Store.
func (f StoreFunc) StoreSummary(ctx context.Context, passID string, summary models.PassSummary) error {
	return f(ctx, passID, summary)
}
