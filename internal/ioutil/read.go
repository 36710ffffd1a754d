package ioutil

import (
	"fmt"
	"io"
)

// ReadLimited reads up to limit bytes from r for use in error messages and
// logs. A read failure is described in the returned string.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// DrainAndClose discards what is left of an HTTP response body so the
// connection can be reused, then closes it.
func DrainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}
