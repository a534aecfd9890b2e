package models

import "time"

// SubmissionEnvelope is the record published to the delivery outbox topic.
type SubmissionEnvelope struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	SiteID    string            `json:"site_id"`
	Timestamp time.Time         `json:"timestamp"`
	Mail      Mail              `json:"mail"`
	Fields    map[string]string `json:"fields"`
	Metadata  Metadata          `json:"metadata"`
}

type Mail struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	FromName string   `json:"from_name"`
	From     string   `json:"from"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	Headers  []string `json:"headers"`
}

type Metadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
