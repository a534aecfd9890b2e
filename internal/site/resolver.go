// Package site maps a site identifier from the request path onto its
// submission configuration and post-submission redirect target.
package site

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
)

var ErrUnknownSite = apperrors.NewError("UNKNOWN_SITE", "unknown site", http.StatusNotFound)

type Resolver interface {
	Resolve(siteID string) (submission.SubmissionConfig, error)
}

// StaticResolver serves the sites declared in configuration. It is
// immutable after construction.
type StaticResolver struct {
	sites map[string]submission.SubmissionConfig
}

func NewStaticResolver(sites map[string]config.SiteConfig) *StaticResolver {
	r := &StaticResolver{sites: make(map[string]submission.SubmissionConfig, len(sites))}
	for id, s := range sites {
		id = strings.ToLower(id)
		r.sites[id] = toSubmissionConfig(id, s)
	}
	return r
}

func toSubmissionConfig(id string, s config.SiteConfig) submission.SubmissionConfig {
	siteName := s.SiteName
	if siteName == "" {
		siteName = constants.DefaultSiteName
	}
	// An absent prefix defaults to the bracketed site name; an explicit
	// empty one is kept.
	subjectPrefix := "[" + siteName + "]"
	if s.SubjectPrefix != nil {
		subjectPrefix = *s.SubjectPrefix
	}
	subjectField := s.SubjectField
	if subjectField == "" {
		subjectField = constants.DefaultSubjectField
	}

	return submission.SubmissionConfig{
		SiteID:           id,
		SiteName:         siteName,
		Recipient:        strings.TrimSpace(s.Recipient),
		SubjectPrefix:    subjectPrefix,
		Fields:           append([]string(nil), s.Fields...),
		Required:         append([]string(nil), s.Required...),
		EmailField:       s.EmailField,
		PhoneField:       s.PhoneField,
		NameField:        s.NameField,
		SubjectField:     subjectField,
		RedirectURL:      s.RedirectURL,
		RedirectFragment: s.RedirectFragment,
	}
}

func (r *StaticResolver) Resolve(siteID string) (submission.SubmissionConfig, error) {
	cfg, ok := r.sites[strings.ToLower(siteID)]
	if !ok {
		return submission.SubmissionConfig{}, ErrUnknownSite.WithDetail("site", siteID)
	}
	return cfg, nil
}

func (r *StaticResolver) Sites() []string {
	ids := make([]string, 0, len(r.sites))
	for id := range r.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RedirectTarget appends status and msg to the site's redirect URL and sets
// its fragment. Existing query parameters are preserved.
func RedirectTarget(cfg submission.SubmissionConfig, res submission.Result) (string, error) {
	base := cfg.RedirectURL
	if base == "" {
		base = "/"
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	status := "error"
	if res.Success {
		status = "ok"
	}

	q := u.Query()
	q.Set("status", status)
	q.Set("msg", res.Message)
	u.RawQuery = q.Encode()
	if cfg.RedirectFragment != "" {
		u.Fragment = strings.TrimPrefix(cfg.RedirectFragment, "#")
	}
	return u.String(), nil
}
