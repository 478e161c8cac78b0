package analyzer

import (
	"github.com/emlsentry/emlsentry/internal/eml"
)

// Detail is one finding inside a verdict.
type Detail struct {
	Key          string `json:"key"`
	Description  string `json:"description"`
	ReferenceURL string `json:"reference_url,omitempty"`
}

// Verdict is one backend's structured finding about a message.
type Verdict struct {
	Name      string   `json:"name"`
	Malicious bool     `json:"malicious"`
	Details   []Detail `json:"details"`
}

// Response is the composite analysis result. ID is the hex SHA-256 of the
// raw input bytes, so identical submissions yield identical IDs.
type Response struct {
	ID       string    `json:"id"`
	Eml      *eml.Eml  `json:"eml"`
	Verdicts []Verdict `json:"verdicts"`
}
