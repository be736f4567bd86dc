package core

import (
	"net/http"
	"time"
)

// PendingRequest is an outbound report waiting to be forwarded upstream.
// It is immutable once enqueued.
type PendingRequest struct {
	ID         string
	ProjectID  string
	Method     string
	Headers    map[string]string
	URL        string
	Body       []byte
	ReceivedAt time.Time
}

// NewPendingRequest copies the supplied headers and body so later mutation by
// the producer cannot leak into a queued request.
func NewPendingRequest(id, projectID, method, url string, headers map[string]string, body []byte) *PendingRequest {
	copiedHeaders := make(map[string]string, len(headers))
	for key, value := range headers {
		copiedHeaders[key] = value
	}

	var copiedBody []byte
	if body != nil {
		copiedBody = make([]byte, len(body))
		copy(copiedBody, body)
	}

	if method == "" {
		method = http.MethodPost
	}

	return &PendingRequest{
		ID:         id,
		ProjectID:  projectID,
		Method:     method,
		Headers:    copiedHeaders,
		URL:        url,
		Body:       copiedBody,
		ReceivedAt: time.Now().UTC(),
	}
}

// ProjectKey holds the credentials of a single upstream project.
type ProjectKey struct {
	ProjectID string    `json:"project_id" yaml:"project_id"`
	PublicKey string    `json:"public_key" yaml:"public_key"`
	SecretKey string    `json:"secret_key" yaml:"secret_key"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}
