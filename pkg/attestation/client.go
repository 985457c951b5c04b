// Package attestation retrieves burn attestations from the attestation
// service and waits for them to become available.
package attestation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Attestation statuses reported by the attestation service.
const (
	StatusPending  = "pending_confirmations"
	StatusComplete = "complete"
)

// Attestation is the service's certification of a burn. Message and
// Attestation are only populated once Status is complete.
type Attestation struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Attestation string `json:"attestation,omitempty"`
}

// Complete reports whether the attestation is ready for minting.
func (a *Attestation) Complete() bool {
	return a.Status == StatusComplete
}

// MessageBytes decodes the burn message payload.
func (a *Attestation) MessageBytes() ([]byte, error) {
	return decodeHexField("message", a.Message)
}

// AttestationBytes decodes the attestation signature payload.
func (a *Attestation) AttestationBytes() ([]byte, error) {
	return decodeHexField("attestation", a.Attestation)
}

func decodeHexField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("attestation has empty %s field", name)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s field: %v", name, err)
	}
	return b, nil
}

// Client fetches attestations for burn transactions.
type Client interface {
	Fetch(ctx context.Context, burnTxHash string) (*Attestation, error)
}

// HTTPClient talks to the attestation service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a new attestation service client
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Fetch queries the attestation service for a burn transaction. A burn the
// service has not seen yet is reported as pending, not as an error.
func (c *HTTPClient) Fetch(ctx context.Context, burnTxHash string) (*Attestation, error) {
	url := fmt.Sprintf("%s/v1/attestations/%s", c.baseURL, burnTxHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attestation request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attestation: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	// The service returns 404 until it first observes the burn
	if resp.StatusCode == http.StatusNotFound {
		return &Attestation{Status: StatusPending}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var att Attestation
	if err := json.Unmarshal(bodyBytes, &att); err != nil {
		return nil, fmt.Errorf("failed to decode attestation: %v, body: %s", err, string(bodyBytes))
	}
	return &att, nil
}
