package memory

import (
	"context"
	"strings"
)

// NewIndex creates a postgres-backed index when configured, otherwise the
// embedded chromem index.
func NewIndex(ctx context.Context, databaseURL string, dims int) (Index, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewChromemIndex(), nil
	}
	return NewPostgresIndex(ctx, databaseURL, dims)
}
