package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy(t *testing.T) {
	prod := NewPolicy(true, "fjordcrew.no")
	assert.True(t, prod.Secure)
	assert.Equal(t, "fjordcrew.no", prod.Domain)

	dev := NewPolicy(false, "fjordcrew.no")
	assert.False(t, dev.Secure)
	assert.Empty(t, dev.Domain, "domain attribute is production only")
}

func TestSetSession(t *testing.T) {
	w := httptest.NewRecorder()
	NewPolicy(true, "fjordcrew.no").SetSession(w, "token-value", 24*time.Hour)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "token-value", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 86400, c.MaxAge)
	assert.Equal(t, "fjordcrew.no", c.Domain)
	assert.Equal(t, "/", c.Path)
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	NewPolicy(false, "").ClearSession(w)

	header := w.Header().Get("Set-Cookie")
	assert.Contains(t, header, SessionCookie+"=;")
	assert.Contains(t, header, "Max-Age=0")
}

func TestGetSession(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetSession(r)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "abc"})
	v, err := GetSession(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}
