package estimate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/crucible/internal/estimate/mocks"
	"github.com/mattjoyce/crucible/internal/history"
)

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func TestExplicitTimeoutWins(t *testing.T) {
	logger, _ := newTestSlogger()
	e := New(nil, nil, logger)

	est := e.Estimate(context.Background(), "sleep 5", 2*time.Second, 5*time.Second)

	assert.Equal(t, 2*time.Second, est.Timeout)
	assert.Equal(t, 5*time.Second, est.Stall)
	assert.Equal(t, MethodExplicit, est.Method)
	assert.Equal(t, 1.0, est.Confidence)
}

func TestHistoricalTier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := `claude -p "summarize the architecture"`
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).
		Return(&history.Stats{Samples: 6, MaxDuration: 100, AvgDuration: 80}, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, 150*time.Second, est.Timeout)
	assert.Equal(t, MethodHistorical, est.Method)
	assert.InDelta(t, 0.6, est.Confidence, 1e-9)
	assert.Equal(t, 6, est.Samples)
	// Confident history tolerates a tight stall window.
	assert.Equal(t, 30*time.Second, est.Stall)
}

func TestHistoricalTierFloor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := "make test"
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).
		Return(&history.Stats{Samples: 3, MaxDuration: 10, AvgDuration: 8}, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, 60*time.Second, est.Timeout)
	assert.InDelta(t, 0.3, est.Confidence, 1e-9)
	// Low confidence keeps the generous stall window.
	assert.Equal(t, 120*time.Second, est.Stall)
}

func TestSimilarityTier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := `claude -p "write a haiku about rivers"`
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, nil)
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return([]history.Similar{
		{Command: `claude -p "write a haiku about rain"`, Duration: 30, Score: 0.8},
		{Command: `claude -p "write a haiku about snow"`, Duration: 60, Score: 0.6},
	}, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, 90*time.Second, est.Timeout)
	assert.Equal(t, MethodSimilarity, est.Method)
	assert.Equal(t, 0.7, est.Confidence)
	assert.Equal(t, 2, est.Samples)
	assert.Equal(t, 120*time.Second, est.Stall)
}

func TestSimilarityTierFloor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := "make lint"
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, nil)
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return([]history.Similar{
		{Command: "make vet", Duration: 10, Score: 0.5},
		{Command: "make fmt", Duration: 20, Score: 0.5},
	}, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, 60*time.Second, est.Timeout)
}

func TestTokenTierClampsToMinimum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := `claude -p "What is 2+2?"`
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, nil)
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return(nil, nil)

	probe := mocks.NewMockLoadProbe(ctrl)
	probe.EXPECT().CPUPercent(gomock.Any()).Return(5.0, nil)

	logger, _ := newTestSlogger()
	e := New(store, probe, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, 90*time.Second, est.Timeout)
	assert.Equal(t, MethodToken, est.Method)
	assert.Equal(t, 0.5, est.Confidence)
	assert.Equal(t, "default", est.Model)
	if assert.NotNil(t, est.Tokens) {
		assert.Equal(t, 118, est.Tokens.Total)
	}
	assert.Equal(t, 120*time.Second, est.Stall)
}

func TestTokenTierLoadMultiplier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := `claude -p "What is 2+2?"`
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, nil)
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return(nil, nil)

	probe := mocks.NewMockLoadProbe(ctrl)
	probe.EXPECT().CPUPercent(gomock.Any()).Return(50.0, nil)

	logger, logBuf := newTestSlogger()
	e := New(store, probe, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	// (30s startup + 118 tokens / 40 tok/s) * 1.2 buffer * 3 load.
	assert.InDelta(t, 118.62, est.Timeout.Seconds(), 0.05)
	assert.Contains(t, logBuf.String(), "System load high")
}

func TestTokenTierModelRate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := `claude --model claude-3-5-haiku -p "What is 2+2?"`
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, nil)
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return(nil, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, "claude-3-5-haiku-20241022", est.Model)
	assert.Equal(t, MethodToken, est.Method)
}

func TestHistoryErrorFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := "make build"
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).Return(nil, errors.New("db closed"))
	store.EXPECT().SimilarTasks(gomock.Any(), command, 3).Return(nil, errors.New("db closed"))

	logger, logBuf := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 0)

	assert.Equal(t, MethodToken, est.Method)
	assert.Contains(t, logBuf.String(), "History lookup failed")
}

func TestExplicitStallOverridesEstimate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	command := "make deploy"
	store := mocks.NewMockHistoryStore(ctrl)
	store.EXPECT().TaskStats(gomock.Any(), command).
		Return(&history.Stats{Samples: 8, MaxDuration: 50, AvgDuration: 40}, nil)

	logger, _ := newTestSlogger()
	e := New(store, nil, logger)

	est := e.Estimate(context.Background(), command, 0, 7*time.Second)

	assert.Equal(t, MethodHistorical, est.Method)
	assert.Equal(t, 7*time.Second, est.Stall)
}

func TestEstimateSeconds(t *testing.T) {
	est := Estimate{Timeout: 90 * time.Second}
	assert.Equal(t, 90, est.Seconds())
}
