package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/internal/domain/repository"
)

type DeliveryReportRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryReportRepository(pool *pgxpool.Pool) *DeliveryReportRepository {
	return &DeliveryReportRepository{pool: pool}
}

func (r *DeliveryReportRepository) InsertReport(ctx context.Context, report *entity.DeliveryReport) error {
	failures := report.Failures
	if failures == nil {
		failures = []entity.DeliveryFailure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO delivery_reports
			(id, issue_title, attempted, succeeded, failed, skipped, failures, archive_url, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, report.ID, report.IssueTitle, report.Attempted, report.Succeeded, report.Failed,
		report.Skipped, raw, report.ArchiveURL, report.StartedAt, report.FinishedAt)
	return err
}

func (r *DeliveryReportRepository) RecentReports(ctx context.Context, limit int) ([]*entity.DeliveryReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, issue_title, attempted, succeeded, failed, skipped, failures,
		       COALESCE(archive_url, ''), started_at, finished_at
		FROM delivery_reports
		ORDER BY finished_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*entity.DeliveryReport
	for rows.Next() {
		rep := &entity.DeliveryReport{}
		var raw []byte
		if err := rows.Scan(&rep.ID, &rep.IssueTitle, &rep.Attempted, &rep.Succeeded,
			&rep.Failed, &rep.Skipped, &raw, &rep.ArchiveURL, &rep.StartedAt, &rep.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rep.Failures); err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

var _ repository.DeliveryReportRepository = (*DeliveryReportRepository)(nil)
