package handler_test

import (
	"context"

	"masterchain.app/orchestrator/internal/engine"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/store"
)

type mockJobService struct {
	submitFn    func(ctx context.Context, req engine.SubmitRequest) (*model.Job, error)
	statusFn    func(jobID int64) (*model.Job, error)
	cancelFn    func(ctx context.Context, jobID int64, ownerID string) error
	subscribeFn func(jobID int64) (<-chan progress.Update, func(), error)
	listFn      func(ctx context.Context, ownerID string, filter store.HistoryFilter) ([]model.JobSummary, error)
}

func (m *mockJobService) SubmitJob(ctx context.Context, req engine.SubmitRequest) (*model.Job, error) {
	return m.submitFn(ctx, req)
}

func (m *mockJobService) Status(jobID int64) (*model.Job, error) {
	return m.statusFn(jobID)
}

func (m *mockJobService) Cancel(ctx context.Context, jobID int64, ownerID string) error {
	return m.cancelFn(ctx, jobID, ownerID)
}

func (m *mockJobService) Subscribe(jobID int64) (<-chan progress.Update, func(), error) {
	return m.subscribeFn(jobID)
}

func (m *mockJobService) ListHistory(ctx context.Context, ownerID string, filter store.HistoryFilter) ([]model.JobSummary, error) {
	return m.listFn(ctx, ownerID, filter)
}
