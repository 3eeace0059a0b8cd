package mailer

// RetryJob is the JSON payload queued to RabbitMQ when a newsletter send
// fails. The delivery worker consumes it and retries out of band, so one
// slow or broken mailbox never blocks the publish request.
type RetryJob struct {
	Recipient   string `json:"recipient"`
	IssueTitle  string `json:"issue_title"`
	TextContent string `json:"text_content,omitempty"`
	HTMLContent string `json:"html_content,omitempty"`
	// Attempts counts delivery tries so far, including the synchronous one.
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
}
