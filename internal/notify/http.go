package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fjordcrew/crewfront/internal/ioutil"
	"github.com/fjordcrew/crewfront/internal/log"
)

// HTTPNotifier posts messages as JSON to a transactional email API,
// authenticated with a bearer API key. 5xx and connection errors are
// retried.
type HTTPNotifier struct {
	endpoint string
	apiKey   string
	client   *retryablehttp.Client
}

// HTTPOption configures an HTTPNotifier.
type HTTPOption func(*HTTPNotifier)

// WithRetry overrides the retry count and minimum backoff.
func WithRetry(max int, waitMin time.Duration) HTTPOption {
	return func(n *HTTPNotifier) {
		n.client.RetryMax = max
		n.client.RetryWaitMin = waitMin
		if n.client.RetryWaitMax < waitMin {
			n.client.RetryWaitMax = waitMin
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(n *HTTPNotifier) {
		n.client.HTTPClient = c
	}
}

// NewHTTPNotifier creates a notifier for endpoint.
func NewHTTPNotifier(endpoint, apiKey string, opts ...HTTPOption) *HTTPNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = log.Component("notify")

	n := &HTTPNotifier{endpoint: endpoint, apiKey: apiKey, client: client}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *HTTPNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer ioutil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}
	return nil
}
