package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orcaforge/fleet/errs"
)

// HTTPTransport speaks plain JSON-over-HTTP to a tool provider: POST
// {endpoint}/tools/{tool} with the arguments as a JSON body, expecting a
// JSON object response. Grounded on the teacher's internal httpclient
// request/response shape, simplified to stdlib net/http since retry is
// already handled one layer up by Client.Call.
type HTTPTransport struct {
	httpClient *http.Client
}

// NewHTTPTransport creates a transport using the given per-request
// timeout as the underlying client's timeout ceiling.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{httpClient: &http.Client{Timeout: timeout}}
}

type httpCallResponse struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Call POSTs arguments to endpoint/tools/tool and parses the JSON result.
func (t *HTTPTransport) Call(ctx context.Context, endpoint, tool string, arguments map[string]any) (map[string]any, error) {
	body, err := json.Marshal(arguments)
	if err != nil {
		return nil, errs.New("toolclient", "http_call", errs.KindMalformedResponse,
			"failed to marshal tool arguments", err)
	}

	url := fmt.Sprintf("%s/tools/%s", endpoint, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New("toolclient", "http_call", errs.KindTransportFailure,
			"failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errs.New("toolclient", "http_call", errs.KindTransportFailure,
			"request to "+url+" failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New("toolclient", "http_call", errs.KindTransportFailure,
			"failed to read response body", err)
	}

	if resp.StatusCode >= 500 {
		return nil, errs.New("toolclient", "http_call", errs.KindTransportFailure,
			fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New("toolclient", "http_call", errs.KindProviderReportedErr,
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed httpCallResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.New("toolclient", "http_call", errs.KindMalformedResponse,
			"failed to parse provider response", err)
	}
	if parsed.Error != "" {
		return nil, errs.New("toolclient", "http_call", errs.KindProviderReportedErr, parsed.Error, nil)
	}
	return parsed.Result, nil
}
