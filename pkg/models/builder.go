package models

import "time"

type SubmissionEnvelopeBuilder struct {
	envelope *SubmissionEnvelope
}

func NewSubmissionEnvelopeBuilder() *SubmissionEnvelopeBuilder {
	return &SubmissionEnvelopeBuilder{
		envelope: &SubmissionEnvelope{
			Fields:   make(map[string]string),
			Metadata: Metadata{},
		},
	}
}

func (b *SubmissionEnvelopeBuilder) WithID(id string) *SubmissionEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *SubmissionEnvelopeBuilder) WithSource(source string) *SubmissionEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *SubmissionEnvelopeBuilder) WithSiteID(siteID string) *SubmissionEnvelopeBuilder {
	b.envelope.SiteID = siteID
	return b
}

func (b *SubmissionEnvelopeBuilder) WithTimestamp(timestamp time.Time) *SubmissionEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *SubmissionEnvelopeBuilder) WithMail(mail Mail) *SubmissionEnvelopeBuilder {
	b.envelope.Mail = mail
	return b
}

func (b *SubmissionEnvelopeBuilder) WithFields(fields map[string]string) *SubmissionEnvelopeBuilder {
	if fields != nil {
		b.envelope.Fields = fields
	}
	return b
}

func (b *SubmissionEnvelopeBuilder) WithMetadata(metadata Metadata) *SubmissionEnvelopeBuilder {
	b.envelope.Metadata = metadata
	return b
}

func (b *SubmissionEnvelopeBuilder) Build() *SubmissionEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now()
	}
	return b.envelope
}
