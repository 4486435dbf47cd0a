package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/streamupload/internal/pipeline"
)

// Service records upload requests as batches.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Begin creates and persists a batch in RECEIVING status.
func (s *Service) Begin(ctx context.Context) (*Batch, error) {
	b := New()
	if err := s.repo.Save(ctx, b); err != nil {
		s.logger.Error("failed to save batch",
			slog.String("batch_id", b.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return b, nil
}

// Complete settles b with the request results and persists it.
func (s *Service) Complete(ctx context.Context, b *Batch, results pipeline.Results) error {
	if err := b.Start(); err != nil {
		return fmt.Errorf("start batch %s: %w", b.ID, err)
	}
	if err := b.Settle(results); err != nil {
		return fmt.Errorf("settle batch %s: %w", b.ID, err)
	}

	s.logger.Info("batch settled",
		slog.String("batch_id", b.ID),
		slog.String("status", string(b.GetStatus())),
		slog.Int("files", b.Summary.Total),
		slog.Int("failed", b.Summary.Failed),
	)
	return s.repo.Save(ctx, b)
}

// Abort marks b as failed by a request-level error and persists it.
func (s *Service) Abort(ctx context.Context, b *Batch, reason string) error {
	if err := b.Fail(reason); err != nil {
		return fmt.Errorf("fail batch %s: %w", b.ID, err)
	}

	s.logger.Warn("batch failed",
		slog.String("batch_id", b.ID),
		slog.String("error", reason),
	)
	return s.repo.Save(ctx, b)
}

// Get retrieves a batch by ID.
func (s *Service) Get(ctx context.Context, id string) (*Batch, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every recorded batch, newest first.
func (s *Service) List(ctx context.Context) ([]*Batch, error) {
	return s.repo.List(ctx)
}
