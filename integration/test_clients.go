package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const csrfHeader = "X-CSRF-Token"

// envelope is the JSON shape of every API response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// CrewClient talks to a running crewfront the way the website does: it
// keeps cookies and fetches a CSRF token before each submission.
type CrewClient struct {
	baseURL string
	http    *http.Client
}

func NewCrewClient(t *testing.T) *CrewClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &CrewClient{
		baseURL: crewBaseURL,
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}
}

// Do sends a request and returns the response with its body read.
func (c *CrewClient) Do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (c *CrewClient) Get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	require.NoError(t, err)
	return c.Do(t, req)
}

func (c *CrewClient) CSRFToken(t *testing.T) string {
	t.Helper()
	resp, body := c.Get(t, "/api/csrf-token")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(decode(t, body).Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

// PostJSON submits payload with a fresh CSRF token.
func (c *CrewClient) PostJSON(t *testing.T, path string, payload any) (*http.Response, envelope) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfHeader, c.CSRFToken(t))

	resp, body := c.Do(t, req)
	return resp, decode(t, body)
}

// Login walks the whole redirect chain through the fake identity provider
// and returns the final response.
func (c *CrewClient) Login(t *testing.T, returnTo string) *http.Response {
	t.Helper()
	resp, _ := c.Get(t, "/login/start?returnTo="+returnTo)
	return resp
}

func (c *CrewClient) UploadDocument(t *testing.T, kind, fileName string, content []byte) (*http.Response, envelope) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("kind", kind))
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/documents", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(csrfHeader, c.CSRFToken(t))

	resp, raw := c.Do(t, req)
	return resp, decode(t, raw)
}

func decode(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), strings.TrimSpace(string(body)))
	return env
}
