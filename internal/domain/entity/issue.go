package entity

import (
	"fmt"
	"strings"
	"time"
)

// Issue is one newsletter issue submitted for delivery. Content arrives
// ready to send; the pipeline does not template it.
type Issue struct {
	Title       string
	HTMLContent string
	TextContent string
}

// Validate rejects issues that would produce empty or untitled mail.
func (i Issue) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("%w: issue title is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(i.HTMLContent) == "" && strings.TrimSpace(i.TextContent) == "" {
		return fmt.Errorf("%w: issue has neither html nor text content", ErrInvalidInput)
	}
	return nil
}

// DeliveryFailure records one recipient an issue could not be delivered to.
type DeliveryFailure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// DeliveryReport summarizes one fan-out run over the confirmed audience.
// Counts always satisfy Attempted == Succeeded + Failed; Skipped counts
// stored addresses that no longer parse and were never attempted.
type DeliveryReport struct {
	ID         string            `json:"id"`
	IssueTitle string            `json:"issue_title"`
	Attempted  int               `json:"attempted"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Failures   []DeliveryFailure `json:"failures"`
	ArchiveURL string            `json:"archive_url,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}
