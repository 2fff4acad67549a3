// Package cookiestore keeps the survey session cookie across CLI invocations.
package cookiestore

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cookiejar "github.com/juju/persistent-cookiejar"

	"pkt.systems/pslog"
)

// Jar is an http.CookieJar backed by a persistent cookie file. Changes to
// the API base host are saved immediately; when no cookie is left for that
// host the file is removed.
type Jar struct {
	path  string
	base  *url.URL
	inner *cookiejar.Jar
	log   pslog.Logger

	mu sync.Mutex
}

var _ http.CookieJar = (*Jar)(nil)

// Open loads the jar at path for baseURL. A missing file yields an empty
// jar and an unreadable one is discarded.
func Open(path, baseURL string, logger pslog.Logger) (*Jar, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cookie file path is required")
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("cookie jar base url %q is invalid", baseURL)
	}
	if logger != nil {
		logger = logger.With("cookie_file", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cookie dir: %w", err)
	}
	inner, err := cookiejar.New(&cookiejar.Options{Filename: path})
	if err != nil {
		if logger != nil {
			logger.Warn("cookiestore load failed", "err", err)
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("discard cookie file: %w", rmErr)
		}
		if inner, err = cookiejar.New(&cookiejar.Options{Filename: path}); err != nil {
			return nil, fmt.Errorf("open cookie jar: %w", err)
		}
	}
	j := &Jar{path: path, base: base, inner: inner, log: logger}
	if logger != nil {
		logger.Debug("cookiestore load ok", "cookies", len(inner.Cookies(base)))
	}
	return j, nil
}

// Path returns the backing file.
func (j *Jar) Path() string {
	return j.path
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// SetCookies implements http.CookieJar. Write failures are logged and not
// fatal.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)
	if !strings.EqualFold(u.Host, j.base.Host) {
		return
	}
	if err := j.save(); err != nil && j.log != nil {
		j.log.Warn("cookiestore save failed", "err", err)
	}
}

// Clear drops every stored cookie and removes the backing file.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.RemoveAll()
	return j.removeFile()
}

func (j *Jar) save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.inner.Cookies(j.base)) == 0 {
		return j.removeFile()
	}
	if err := j.inner.Save(); err != nil {
		return err
	}
	return os.Chmod(j.path, 0o600)
}

func (j *Jar) removeFile() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
