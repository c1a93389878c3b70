package http

import (
	"context"
	"io"

	"polarcli/internal/services"
	"polarcli/pkg/contracts/domain"
)

// SessionServiceInterface defines the session operations the HTTP layer needs
type SessionServiceInterface interface {
	Create(ctx context.Context, name string, r io.Reader) (services.SessionInfo, error)
	Get(id string) (services.SessionInfo, error)
	List() []services.SessionInfo
	Convert(ctx context.Context, id string) (*domain.StokesTable, error)
	Properties(ctx context.Context, id string) (*domain.PropertyTable, error)
	Summary(id string) (domain.ConversionSummary, error)
	RoundTrip(ctx context.Context, id string, tolerance float64) (*domain.RoundTripReport, error)
	Export(ctx context.Context, id string, w io.Writer, includeProperties bool) error
	ExportName(id, suffix string) (string, error)
	Delete(ctx context.Context, id string) error
}
