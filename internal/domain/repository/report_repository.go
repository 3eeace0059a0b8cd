package repository

import (
	"context"

	"github.com/letterflow/letterflow/internal/domain/entity"
)

// DeliveryReportRepository persists the outcome of newsletter fan-out runs.
// Reports are append-only; nothing updates or deletes them.
type DeliveryReportRepository interface {
	InsertReport(ctx context.Context, report *entity.DeliveryReport) error

	// RecentReports returns up to limit reports, newest first.
	RecentReports(ctx context.Context, limit int) ([]*entity.DeliveryReport, error)
}
