package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateSubmissionEnvelope checks the fields every outbox consumer relies on.
func ValidateSubmissionEnvelope(env *SubmissionEnvelope) error {
	if env == nil {
		return &ValidationError{Field: "envelope", Message: "submission envelope cannot be nil"}
	}

	required := []struct {
		field string
		value string
	}{
		{"id", env.ID},
		{"source", env.Source},
		{"mail.to", env.Mail.To},
		{"mail.subject", env.Mail.Subject},
		{"mail.from", env.Mail.From},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field, Message: r.field + " is required"}
		}
	}

	if env.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}
	return nil
}
