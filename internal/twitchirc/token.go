package twitchirc

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrEmptyToken = errors.New("twitchirc: empty token")

// NormalizeToken trims the token and ensures the "oauth:" prefix.
func NormalizeToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "oauth:") {
		return trimmed
	}
	return "oauth:" + trimmed
}

// FileTokenLoader reads a chat token from disk. The last good value is kept so
// a rotated file can be picked up on reconnect.
type FileTokenLoader struct {
	path   string
	mu     sync.Mutex
	cached string
}

func NewFileTokenLoader(path string) *FileTokenLoader {
	return &FileTokenLoader{path: path}
}

// Load re-reads the file. changed reports whether the token differs from the
// cached one.
func (l *FileTokenLoader) Load() (token string, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", false, errors.Wrap(err, "read token file")
	}
	token = NormalizeToken(string(data))
	if token == "" {
		return "", false, ErrEmptyToken
	}
	if token == l.cached {
		return token, false, nil
	}
	l.cached = token
	return token, true, nil
}

// Current returns the cached token without touching the file.
func (l *FileTokenLoader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached
}

func (l *FileTokenLoader) SetCached(token string) {
	l.mu.Lock()
	l.cached = NormalizeToken(token)
	l.mu.Unlock()
}

// Refresh satisfies Config.RefreshNow: it re-reads the file and fails if the
// token has not rotated.
func (l *FileTokenLoader) Refresh() (string, error) {
	token, changed, err := l.Load()
	if err != nil {
		return "", err
	}
	if !changed {
		return token, errors.New("twitchirc: token file unchanged")
	}
	return token, nil
}
