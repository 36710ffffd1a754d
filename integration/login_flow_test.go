package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestVippsLoginFlow(t *testing.T) {
	startCrewFront(t, writeTestConfig(t, buildTestConfig(t)))
	client := NewCrewClient(t)

	resp, _ := client.Get(t, "/api/session")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = client.Login(t, "/min-side")
	assert.Equal(t, "/min-side", resp.Request.URL.Path, "login must end on the requested page")

	var claims struct {
		SubjectID        string `json:"sub"`
		ExternalSubject  string `json:"idp_sub"`
		Email            string `json:"email"`
		Name             string `json:"name"`
		IdentityVerified bool   `json:"identity_verified"`
	}
	resp, body := client.Get(t, "/api/session")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(decode(t, body).Data, &claims))
	assert.NotEmpty(t, claims.SubjectID)
	assert.Equal(t, fakeSubject, claims.ExternalSubject)
	assert.Equal(t, "kari.nordmann@example.no", claims.Email)
	assert.Equal(t, "Kari Nordmann", claims.Name)
	assert.True(t, claims.IdentityVerified)

	t.Run("upload document", func(t *testing.T) {
		resp, env := client.UploadDocument(t, "cv", "CV Kari.pdf", pdfBytes)
		require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	})

	t.Run("contact under the same email", func(t *testing.T) {
		resp, env := client.PostJSON(t, "/api/contact", map[string]any{
			"name":    "Kari Nordmann",
			"email":   "kari.nordmann@example.no",
			"message": "Jeg har lastet opp CV-en min.",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
	})

	t.Run("export", func(t *testing.T) {
		resp, body := client.Get(t, "/api/gdpr/export")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "mine-data-")

		var export struct {
			SubjectID string `json:"subjectId"`
			Data      struct {
				User struct {
					Provider string `json:"provider"`
				} `json:"user"`
				ContactMessages []map[string]any `json:"contactMessages"`
				Documents       []struct {
					FileName    string `json:"fileName"`
					ContentType string `json:"contentType"`
				} `json:"documents"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &export))
		assert.Equal(t, claims.SubjectID, export.SubjectID)
		assert.Equal(t, "vipps", export.Data.User.Provider)
		assert.Len(t, export.Data.ContactMessages, 1)
		require.Len(t, export.Data.Documents, 1)
		assert.Equal(t, "CV Kari.pdf", export.Data.Documents[0].FileName)
		assert.Equal(t, "application/pdf", export.Data.Documents[0].ContentType)
	})

	resp, _ = client.Get(t, "/logout")
	assert.Equal(t, "/", resp.Request.URL.Path)
	resp, _ = client.Get(t, "/api/session")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "logout must clear the session")
}

func TestLoginCancelled(t *testing.T) {
	startCrewFront(t, writeTestConfig(t, buildTestConfig(t)))
	fakeVipps.Denied.Store(true)
	t.Cleanup(func() { fakeVipps.Denied.Store(false) })
	client := NewCrewClient(t)

	resp := client.Login(t, "/min-side")
	assert.Equal(t, "/logg-inn", resp.Request.URL.Path)
	assert.NotEmpty(t, resp.Request.URL.Query().Get("error"))

	resp, _ = client.Get(t, "/api/session")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginStateIsSingleUse(t *testing.T) {
	startCrewFront(t, writeTestConfig(t, buildTestConfig(t)))
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Get(crewBaseURL + "/login/start?returnTo=/min-side")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	// The fake provider answers /authorize with a redirect to our callback.
	resp, err = client.Get(resp.Header.Get("Location"))
	require.NoError(t, err)
	resp.Body.Close()
	callback := resp.Header.Get("Location")
	require.NotEmpty(t, callback)

	resp, err = client.Get(callback)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/min-side", resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Cookies())

	resp, err = client.Get(callback)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Location"), "/logg-inn?error=")
}
