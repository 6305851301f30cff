package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// fhirClient POSTs transaction bundles to a FHIR base URL.
type fhirClient struct {
	url  string
	http *http.Client
}

func newFHIRClient(ep *Endpoint) *fhirClient {
	return &fhirClient{
		url:  ep.URL,
		http: &http.Client{Timeout: ep.Timeout()},
	}
}

// Post sends one bundle and returns the response body. Failures come
// back classified: refused, timed out, or an HTTP error status.
func (c *fhirClient) Post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/fhir+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, diag.Wrap(diag.HTTPError, err, "read response from %s", c.url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, diag.New(diag.HTTPError, "%s answered %d", c.url, resp.StatusCode)
	}
	return out, nil
}

func classifyHTTPErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return diag.Wrap(diag.ReadTimeout, err, "http timeout")
	}
	return diag.Wrap(diag.ConnectionRefused, err, "http request failed")
}
