package product

import (
	"context"
	"log/slog"
)

type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	ListActive(ctx context.Context) ([]*Product, error)
	Create(ctx context.Context, p *Product) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetByID(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]ProductResponse, error) {
	products, err := s.repo.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to get products from repository", "error", err)
		return nil, err
	}

	responses := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		responses = append(responses, p.ToResponse())
	}

	s.logger.Info("retrieved products", "count", len(responses))
	return responses, nil
}
