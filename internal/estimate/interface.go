package estimate

import (
	"context"

	"github.com/mattjoyce/crucible/internal/history"
)

//go:generate mockgen -destination=mocks/mock_estimate.go -package=mocks github.com/mattjoyce/crucible/internal/estimate HistoryStore,LoadProbe

// HistoryStore is the slice of the execution history the estimator reads.
type HistoryStore interface {
	TaskStats(ctx context.Context, command string) (*history.Stats, error)
	SimilarTasks(ctx context.Context, command string, limit int) ([]history.Similar, error)
}

// LoadProbe reports system load for timeout scaling.
type LoadProbe interface {
	CPUPercent(ctx context.Context) (float64, error)
}
