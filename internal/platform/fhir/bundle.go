package fhir

import (
	"encoding/json"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Bundle is a FHIR Bundle. Entry resources stay as raw JSON so unknown
// elements survive a round-trip untouched.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status   string      `json:"status"`
	Location string      `json:"location,omitempty"`
	Outcome  interface{} `json:"outcome,omitempty"`
}

// NewTransactionBundle wraps resources into a transaction Bundle with POST
// requests keyed by each resource's type.
func NewTransactionBundle(resources []interface{}) (*Bundle, error) {
	now := time.Now().UTC()
	b := &Bundle{
		ResourceType: "Bundle",
		Type:         "transaction",
		Timestamp:    &now,
	}
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		rt := resourceTypeOf(raw)
		b.Entry = append(b.Entry, BundleEntry{
			Resource: raw,
			Request:  &BundleRequest{Method: "POST", URL: rt},
		})
	}
	return b, nil
}

// ParseBundle decodes bundle bytes and validates the envelope.
func ParseBundle(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, diag.Wrap(diag.HTTPError, err, "decode bundle")
	}
	if b.ResourceType != "Bundle" {
		return nil, diag.New(diag.HTTPError, "expected resourceType Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// ResourcesOfType returns the decoded entry resources matching resourceType.
func (b *Bundle) ResourcesOfType(resourceType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range b.Entry {
		if resourceTypeOf(e.Resource) != resourceType {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(e.Resource, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func resourceTypeOf(raw json.RawMessage) string {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ResourceType
}
