package domain

import (
	"strings"
	"time"
)

// RawRequest is a request as a collaborator supplies it, with a free-form type
// label.
type RawRequest struct {
	URL          string `json:"url"`
	SourceURL    string `json:"source_url"`
	ResourceType string `json:"resource_type"`
}

// Request is a network request to be checked. Pure value type.
type Request struct {
	URL       string
	SourceURL string
	Type      ResourceType
}

// NewRequest builds a Request, normalizing the caller's type label.
func NewRequest(url, sourceURL, label string) Request {
	return Request{
		URL:       strings.TrimSpace(url),
		SourceURL: strings.TrimSpace(sourceURL),
		Type:      NormalizeResourceType(label),
	}
}

// Request converts the raw form into a normalized Request.
func (r RawRequest) Request() Request {
	return NewRequest(r.URL, r.SourceURL, r.ResourceType)
}

// CheckResult is the cached outcome of a network check.
type CheckResult struct {
	Matched     bool
	ComputedAt  time.Time
	AccessCount uint64
}
