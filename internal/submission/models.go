package submission

import (
	"strings"
	"time"
)

// SubmissionConfig is the per-site contract the pipeline validates against.
// It is resolved once per request and never mutated.
type SubmissionConfig struct {
	SiteID        string
	SiteName      string
	Recipient     string
	// SubjectPrefix is used as given; an empty prefix yields a bare subject.
	SubjectPrefix string
	Fields        []string
	Required      []string
	EmailField    string
	PhoneField    string
	NameField     string
	SubjectField  string

	RedirectURL      string
	RedirectFragment string
}

func (c SubmissionConfig) IsRequired(field string) bool {
	for _, r := range c.Required {
		if r == field {
			return true
		}
	}
	return false
}

// FieldValue is one submitted body field. Composite marks array-shaped input
// (bracket notation or a repeated key), which is never a valid scalar.
type FieldValue struct {
	Values    []string
	Composite bool
}

// Scalar returns the single value of a non-composite field.
func (v FieldValue) Scalar() (string, bool) {
	if v.Composite {
		return "", false
	}
	if len(v.Values) == 0 {
		return "", true
	}
	return v.Values[0], true
}

func (v FieldValue) IsEmpty() bool {
	for _, s := range v.Values {
		if s != "" {
			return false
		}
	}
	return true
}

// RawSubmission is the untrusted request as seen by the pipeline. Identity
// is the already resolved client address.
type RawSubmission struct {
	Method     string
	Identity   string
	UserAgent  string
	Fields     map[string]FieldValue
	CSRFCookie string
}

func (r RawSubmission) Field(name string) FieldValue {
	return r.Fields[name]
}

// FieldsFromValues groups decoded form values by field name. Keys in bracket
// notation ("tags[]", "a[b]") fold into their base name as composite values.
func FieldsFromValues(values map[string][]string) map[string]FieldValue {
	fields := make(map[string]FieldValue, len(values))
	for key, vals := range values {
		name, bracketed := baseName(key)

		fv := fields[name]
		_, seen := fields[name]
		fv.Values = append(fv.Values, vals...)
		fv.Composite = fv.Composite || bracketed || seen || len(vals) > 1
		fields[name] = fv
	}
	return fields
}

func baseName(key string) (string, bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.Contains(key[open:], "]") {
		return key, false
	}
	return key[:open], true
}

// CleanSubmission holds trimmed, sanitized values in configured field order.
type CleanSubmission struct {
	names  []string
	values map[string]string
}

func NewCleanSubmission() *CleanSubmission {
	return &CleanSubmission{values: make(map[string]string)}
}

func (c *CleanSubmission) Set(name, value string) {
	if _, ok := c.values[name]; !ok {
		c.names = append(c.names, name)
	}
	c.values[name] = value
}

func (c *CleanSubmission) Get(name string) string {
	return c.values[name]
}

func (c *CleanSubmission) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *CleanSubmission) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *CleanSubmission) Len() int {
	return len(c.names)
}

// Message is the normalized output handed to a Sender.
type Message struct {
	ID          string
	SiteID      string
	To          string
	Subject     string
	Body        string
	FromName    string
	From        string
	ReplyTo     string
	ClientIP    string
	UserAgent   string
	Fields      map[string]string
	SubmittedAt time.Time
}

// Headers returns the mail header block in the order it is written on the
// wire. Every value is already free of CR and LF.
func (m Message) Headers() []string {
	headers := []string{
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"From: " + m.FromName + " <" + m.From + ">",
	}
	if m.ReplyTo != "" {
		headers = append(headers, "Reply-To: "+m.ReplyTo)
	}
	return headers
}
