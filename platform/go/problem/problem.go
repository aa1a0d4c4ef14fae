// Package problem renders RFC 7807 problem-details responses.
package problem

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs used across the API.
const (
	TypeValidation   = "https://nofrillsdb.dev/problems/validation-error"
	TypeUnauthorized = "https://nofrillsdb.dev/problems/unauthorized"
	TypeNotFound     = "https://nofrillsdb.dev/problems/not-found"
	TypeConflict     = "https://nofrillsdb.dev/problems/conflict"
	TypeInternal     = "https://nofrillsdb.dev/problems/internal-error"
)

// Details is the application/problem+json body.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Write renders a problem-details response. The instance field points at the
// request path so log lines and responses correlate.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title, detail string) {
	body := Details{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
