// Package indexnow notifies search engines of changed pages through the
// IndexNow protocol.
package indexnow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fjordcrew/crewfront/internal/ioutil"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/urlutil"
)

// DefaultEndpoint is the shared IndexNow endpoint that forwards to all
// participating engines.
const DefaultEndpoint = "https://api.indexnow.org/indexnow"

// MaxURLs is the protocol limit per submission.
const MaxURLs = 10000

// ErrForeignURL is returned when a URL is not on the site's host.
var ErrForeignURL = errors.New("url does not belong to this site")

// ErrNoURLs is returned for an empty submission.
var ErrNoURLs = errors.New("no urls to submit")

type payload struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// Client submits URLs of one site.
type Client struct {
	endpoint    string
	key         string
	host        string
	keyLocation string
	http        *retryablehttp.Client
}

// NewClient creates a client for the site at baseURL. The key file is
// expected at <baseURL>/<key>.txt.
func NewClient(endpoint, key, baseURL string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	keyLocation, err := urlutil.JoinPath(base.Scheme+"://"+base.Host, key+".txt")
	if err != nil {
		return nil, err
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = time.Second
	hc.RetryWaitMax = 4 * time.Second
	hc.HTTPClient.Timeout = 10 * time.Second
	hc.Logger = log.Component("indexnow")

	return &Client{
		endpoint:    endpoint,
		key:         key,
		host:        strings.ToLower(base.Host),
		keyLocation: keyLocation,
		http:        hc,
	}, nil
}

// Key returns the verification key served at KeyPath.
func (c *Client) Key() string { return c.key }

// KeyPath is the path of the key file, e.g. "/abc123.txt".
func (c *Client) KeyPath() string { return "/" + c.key + ".txt" }

// Validate checks that every URL is absolute, http(s), on the site's
// host, and within the protocol limit.
func (c *Client) Validate(urls []string) error {
	if len(urls) == 0 {
		return ErrNoURLs
	}
	if len(urls) > MaxURLs {
		return fmt.Errorf("at most %d urls per submission", MaxURLs)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !strings.EqualFold(u.Host, c.host) {
			return fmt.Errorf("%w: %s", ErrForeignURL, raw)
		}
	}
	return nil
}

// Submit posts urls to the endpoint. 200 and 202 count as accepted.
func (c *Client) Submit(ctx context.Context, urls []string) error {
	if err := c.Validate(urls); err != nil {
		return err
	}

	body, err := json.Marshal(payload{Host: c.host, Key: c.key, KeyLocation: c.keyLocation, URLList: urls})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submitting to IndexNow: %w", err)
	}
	defer ioutil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("IndexNow returned %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}
	log.LogInfoWithFields("indexnow", "Submitted URLs", map[string]any{
		"count":  len(urls),
		"status": resp.StatusCode,
	})
	return nil
}
