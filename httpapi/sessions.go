package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pkt.systems/expertsurvey/internal/atomicfile"
	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/schema"
)

const sessionTokenBytes = 32

type session struct {
	id        string
	user      schema.User
	expiresAt time.Time
}

func (s session) live(now time.Time) bool { return !now.After(s.expiresAt) }

func (s session) log(msg string, kv ...any) {
	logx.WithReviewer(context.Background(), s.user.Email).With("http_session", s.id).Info(msg, kv...)
}

// sessionStore maps bearer tokens to reviewers. With a path set, every
// change rewrites the whole table to disk.
type sessionStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]session
	path  string
	now   func() time.Time
}

func newSessionStore(ttl time.Duration, path string) *sessionStore {
	store := &sessionStore{
		ttl:   ttl,
		items: map[string]session{},
		path:  strings.TrimSpace(path),
		now:   time.Now,
	}
	if store.path == "" {
		return store
	}
	loaded, dropped, err := readSessionFile(store.path, store.now())
	if err != nil {
		logx.Ctx(context.Background()).Warn("session store load failed", "err", err)
		return store
	}
	store.items = loaded
	if dropped > 0 {
		store.save(store.records())
	}
	logx.Ctx(context.Background()).Info("session store loaded", "sessions", len(loaded), "dropped", dropped)
	return store
}

// change runs fn under the lock and saves the table when fn reports a change.
func (s *sessionStore) change(fn func(items map[string]session) bool) {
	s.mu.Lock()
	changed := fn(s.items)
	var records []sessionRecord
	if changed && s.path != "" {
		records = s.recordsLocked()
	}
	s.mu.Unlock()
	if records != nil {
		s.save(records)
	}
}

func (s *sessionStore) create(user schema.User) (string, session) {
	token := newSessionToken()
	entry := session{id: uuid.NewString(), user: user, expiresAt: s.now().Add(s.ttl)}
	s.change(func(items map[string]session) bool {
		items[token] = entry
		return true
	})
	entry.log("session created", "expires", entry.expiresAt.Format(time.RFC3339))
	return token, entry
}

// update replaces the user on a live session and renews its expiry.
func (s *sessionStore) update(token string, user schema.User) (session, bool) {
	var entry session
	var ok bool
	s.change(func(items map[string]session) bool {
		now := s.now()
		entry, ok = items[token]
		if !ok || !entry.live(now) {
			ok = false
			return false
		}
		entry.user = user
		entry.expiresAt = now.Add(s.ttl)
		items[token] = entry
		return true
	})
	if !ok {
		return session{}, false
	}
	entry.log("session updated")
	return entry, true
}

func (s *sessionStore) get(token string) (session, bool) {
	var entry session
	var found, expired bool
	s.change(func(items map[string]session) bool {
		entry, found = items[token]
		if found && !entry.live(s.now()) {
			delete(items, token)
			expired = true
		}
		return expired
	})
	if expired {
		entry.log("session expired")
		return session{}, false
	}
	return entry, found
}

func (s *sessionStore) delete(token string) {
	var entry session
	var found bool
	s.change(func(items map[string]session) bool {
		entry, found = items[token]
		delete(items, token)
		return found
	})
	if found {
		entry.log("session deleted")
	}
}

func newSessionToken() string {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

type sessionRecord struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionFile struct {
	Version  int             `json:"version"`
	Sessions []sessionRecord `json:"sessions"`
}

func (s *sessionStore) records() []sessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

func (s *sessionStore) recordsLocked() []sessionRecord {
	return lo.MapToSlice(s.items, func(token string, entry session) sessionRecord {
		return sessionRecord{
			Token:     token,
			SessionID: entry.id,
			Name:      entry.user.Name,
			Email:     string(entry.user.Email),
			ExpiresAt: entry.expiresAt,
		}
	})
}

func (s *sessionStore) save(records []sessionRecord) {
	doc := sessionFile{Version: 1, Sessions: records}
	if err := atomicfile.WriteJSON(s.path, doc, 0o600); err != nil {
		logx.Ctx(context.Background()).Warn("session store save failed", "err", err)
	}
}

// readSessionFile returns the live sessions in path and how many records
// were skipped as expired or malformed. A missing file is an empty table.
func readSessionFile(path string, now time.Time) (map[string]session, int, error) {
	out := map[string]session{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, err
	}
	for _, rec := range doc.Sessions {
		if strings.TrimSpace(rec.Token) == "" || now.After(rec.ExpiresAt) {
			continue
		}
		user, err := schema.NormalizeUser(rec.Name, rec.Email)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(rec.SessionID)
		if id == "" {
			id = uuid.NewString()
		}
		out[rec.Token] = session{id: id, user: user, expiresAt: rec.ExpiresAt}
	}
	return out, len(doc.Sessions) - len(out), nil
}
