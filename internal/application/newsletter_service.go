package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/internal/domain/gateway"
	repo "github.com/letterflow/letterflow/internal/domain/repository"
	"github.com/letterflow/letterflow/pkg/helpers"
	"github.com/letterflow/letterflow/pkg/mailer"
)

// NewsletterService fans one issue out to every confirmed subscriber.
// Redis, RabbitMQ, GCS and Elasticsearch are all optional; a nil client
// degrades that concern to a log line without affecting delivery.
type NewsletterService struct {
	Subs    repo.SubscriberRepository
	Reports repo.DeliveryReportRepository
	Gateway gateway.EmailGateway
	Logger  *logrus.Logger

	Redis     *redis.Client
	Pub       *helpers.RabbitPublisher
	GCS       *storage.Client
	GCSBucket string
	GCSPrefix string
	ES        *elasticsearch.Client
	ESIndex   string

	Workers    int
	RatePerSec int

	Now   func() time.Time
	NewID func() string
}

func NewNewsletterService(
	subs repo.SubscriberRepository,
	reports repo.DeliveryReportRepository,
	gw gateway.EmailGateway,
	logger *logrus.Logger,
	cfg *config.Config,
	rdb *redis.Client,
	pub *helpers.RabbitPublisher,
	gcs *storage.Client,
	es *elasticsearch.Client,
) *NewsletterService {
	return &NewsletterService{
		Subs:       subs,
		Reports:    reports,
		Gateway:    gw,
		Logger:     logger,
		Redis:      rdb,
		Pub:        pub,
		GCS:        gcs,
		GCSBucket:  cfg.GCSBucket,
		GCSPrefix:  cfg.GCSArchivePrefix,
		ES:         es,
		ESIndex:    cfg.ESReportsIndex,
		Workers:    cfg.DeliveryWorkers,
		RatePerSec: cfg.DeliveryRatePerSec,
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
	}
}

// Publish delivers issue to the confirmed audience and returns the report.
// One failing recipient never aborts the run: the failure is recorded and
// delivery continues. The returned error is non-nil only for invalid issues
// and for storage failures while enumerating the audience; in the latter
// case the partial report is returned alongside the error when any sends
// were already attempted.
func (s *NewsletterService) Publish(ctx context.Context, issue entity.Issue) (*entity.DeliveryReport, error) {
	if err := issue.Validate(); err != nil {
		return nil, err
	}

	report := &entity.DeliveryReport{
		ID:         s.NewID(),
		IssueTitle: issue.Title,
		Failures:   []entity.DeliveryFailure{},
		StartedAt:  s.Now(),
	}

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	var limiter *rate.Limiter
	if s.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.RatePerSec), s.RatePerSec)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex

	fail := func(email string, err error) {
		mu.Lock()
		report.Attempted++
		report.Failed++
		report.Failures = append(report.Failures, entity.DeliveryFailure{
			Recipient: email,
			Reason:    err.Error(),
		})
		mu.Unlock()
		if s.Logger != nil {
			s.Logger.WithError(err).WithFields(logrus.Fields{
				"recipient": email,
				"issue":     issue.Title,
			}).Warn("newsletter send failed")
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for email := range jobs {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						fail(email, err)
						continue
					}
				}
				if err := s.Gateway.Send(ctx, email, issue.Title, issue.TextContent, issue.HTMLContent); err != nil {
					fail(email, &gateway.DeliveryError{Recipient: email, Err: err})
					continue
				}
				mu.Lock()
				report.Attempted++
				report.Succeeded++
				mu.Unlock()
			}
		}()
	}

	feedErr := s.Subs.EachConfirmedEmail(ctx, func(email string) error {
		// Stored addresses may predate current validation; skip the ones
		// that no longer parse instead of burning a send on them.
		if _, err := entity.ParseSubscriberEmail(email); err != nil {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			if s.Logger != nil {
				s.Logger.WithField("recipient", email).Warn("skipping stored address that fails validation")
			}
			return nil
		}
		select {
		case jobs <- email:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(jobs)
	wg.Wait()
	report.FinishedAt = s.Now()

	cancelled := feedErr != nil && (errors.Is(feedErr, context.Canceled) || errors.Is(feedErr, context.DeadlineExceeded))
	if cancelled && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"issue":     issue.Title,
			"attempted": report.Attempted,
		}).Warn("delivery run cancelled, report covers attempts made")
	}

	if feedErr != nil && !cancelled {
		if s.Logger != nil {
			helpers.LogError(s.Logger, "listing confirmed subscribers failed", feedErr, logrus.Fields{"issue": issue.Title})
		}
		if report.Attempted == 0 {
			return nil, fmt.Errorf("list confirmed subscribers: %w", feedErr)
		}
		// Sends already happened; keep the record even though the run
		// could not cover the whole audience.
		s.finish(ctx, issue, report)
		return report, fmt.Errorf("list confirmed subscribers: %w", feedErr)
	}

	s.finish(ctx, issue, report)

	if s.Logger != nil {
		helpers.LogInfo(s.Logger, "newsletter delivered", logrus.Fields{
			"issue":     issue.Title,
			"report_id": report.ID,
			"attempted": report.Attempted,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		})
	}
	return report, nil
}

// finish runs the post-delivery bookkeeping: archive, persist, index,
// retry-enqueue, cache invalidation. It is detached from the caller's
// cancellation so an aborted request still leaves an audit trail.
func (s *NewsletterService) finish(ctx context.Context, issue entity.Issue, report *entity.DeliveryReport) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if url := s.archiveIssue(c, issue, report.ID); url != "" {
		report.ArchiveURL = url
	}
	if err := s.Reports.InsertReport(c, report); err != nil && s.Logger != nil {
		helpers.LogError(s.Logger, "delivery report not persisted", err, logrus.Fields{"report_id": report.ID})
	}
	_ = s.indexReport(c, report)
	s.enqueueRetries(c, issue, report)
	s.invalidateReportCache(c)
}

// archiveIssue uploads the issue HTML to the archive bucket and returns the
// public "view in browser" URL, or "" when archiving is off or fails.
func (s *NewsletterService) archiveIssue(ctx context.Context, issue entity.Issue, reportID string) string {
	if s.GCS == nil || s.GCSBucket == "" || strings.TrimSpace(issue.HTMLContent) == "" {
		return ""
	}
	objectPath := path.Join(s.GCSPrefix, reportID+".html")
	url, err := helpers.UploadObject(ctx, s.GCS, s.GCSBucket, objectPath, "text/html; charset=utf-8", strings.NewReader(issue.HTMLContent))
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("object", objectPath).Warn("issue archive upload failed")
		}
		return ""
	}
	return url
}

// ReportIndexMapping is the Elasticsearch mapping for the delivery report
// index. Field names follow the DeliveryReport JSON document.
const ReportIndexMapping = `{
  "mappings": {
    "properties": {
      "issue_title": {"type": "text"},
      "attempted":   {"type": "integer"},
      "succeeded":   {"type": "integer"},
      "failed":      {"type": "integer"},
      "skipped":     {"type": "integer"},
      "archive_url": {"type": "keyword", "index": false},
      "started_at":  {"type": "date"},
      "finished_at": {"type": "date"},
      "failures": {
        "properties": {
          "recipient": {"type": "keyword"},
          "reason":    {"type": "text"}
        }
      }
    }
  }
}`

func (s *NewsletterService) indexReport(ctx context.Context, rep *entity.DeliveryReport) error {
	if s.ES == nil || s.ESIndex == "" {
		return nil
	}
	b, _ := json.Marshal(rep)
	req := esapi.IndexRequest{Index: s.ESIndex, DocumentID: rep.ID, Body: bytes.NewReader(b), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("report_id", rep.ID).Warn("es index failed")
		}
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("report_id", rep.ID).Warn("es index response error")
	}
	return nil
}

// enqueueRetries puts each failed recipient on the retry queue for the
// delivery worker. Broker trouble is logged and abandoned; the report
// already carries everything an operator needs to retry by hand.
func (s *NewsletterService) enqueueRetries(ctx context.Context, issue entity.Issue, rep *entity.DeliveryReport) {
	if s.Pub == nil || len(rep.Failures) == 0 {
		return
	}
	for _, f := range rep.Failures {
		job := mailer.RetryJob{
			Recipient:   f.Recipient,
			IssueTitle:  issue.Title,
			TextContent: issue.TextContent,
			HTMLContent: issue.HTMLContent,
			Attempts:    1,
			LastError:   f.Reason,
			ReportID:    rep.ID,
		}
		if err := s.Pub.PublishJSON(ctx, job); err != nil {
			if s.Logger != nil {
				s.Logger.WithError(err).WithField("report_id", rep.ID).Warn("retry enqueue failed")
			}
			return
		}
	}
	if s.Logger != nil {
		helpers.LogInfo(s.Logger, "failed sends queued for retry", logrus.Fields{
			"report_id": rep.ID,
			"count":     len(rep.Failures),
		})
	}
}

const defaultReportLimit = 20

func reportsCacheKey(limit int) string {
	return fmt.Sprintf("newsletter:reports:recent:%d", limit)
}

// RecentReports lists the newest delivery reports, serving from the redis
// cache when warm.
func (s *NewsletterService) RecentReports(ctx context.Context, limit int) ([]*entity.DeliveryReport, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultReportLimit
	}
	if s.Redis != nil {
		var cached []*entity.DeliveryReport
		if ok, err := helpers.RedisGetJSON(ctx, s.Redis, reportsCacheKey(limit), &cached); err == nil && ok {
			return cached, nil
		}
	}
	reports, err := s.Reports.RecentReports(ctx, limit)
	if err != nil {
		return nil, err
	}
	if s.Redis != nil {
		if err := helpers.RedisSetJSON(ctx, s.Redis, reportsCacheKey(limit), reports, 30*time.Second); err != nil && s.Logger != nil {
			s.Logger.WithError(err).Warn("report cache write failed")
		}
	}
	return reports, nil
}

func (s *NewsletterService) invalidateReportCache(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	// Non-default limits age out via TTL.
	if err := helpers.RedisDel(ctx, s.Redis, reportsCacheKey(defaultReportLimit)); err != nil && s.Logger != nil {
		s.Logger.WithError(err).Warn("report cache invalidation failed")
	}
}

// SearchReports performs a multi_match search over indexed reports. Without
// Elasticsearch configured it returns no hits.
func (s *NewsletterService) SearchReports(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.ESIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"issue_title^2", "failures.recipient"},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(s.ES.Search.WithContext(c), s.ES.Search.WithIndex(s.ESIndex), s.ES.Search.WithBody(bytes.NewReader(b)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
