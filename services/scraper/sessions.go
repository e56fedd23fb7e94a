package scraper

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// sessionStore remembers portal session tokens per account. Tokens
// live in an in-memory cache with a TTL and are mirrored to sqlite so
// a restart does not force every account through CAPTCHA again.
type sessionStore struct {
	db    *sql.DB
	cache *expirable.LRU[string, string]
}

func newSessionStore(database *sql.DB, ttl time.Duration) *sessionStore {
	return &sessionStore{
		db:    database,
		cache: expirable.NewLRU[string, string](64, nil, ttl),
	}
}

// Get returns the freshest known token for an account, preferring the
// in-memory cache over the persisted copy. An empty string means no
// token is known.
func (s *sessionStore) Get(ctx context.Context, account string) (string, error) {
	token, ok := s.cache.Get(account)
	if ok {
		return token, nil
	}

	err := s.db.QueryRowContext(
		ctx,
		`SELECT token FROM sessions WHERE account = ?`,
		account,
	).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if token != "" {
		s.cache.Add(account, token)
	}
	return token, nil
}

func (s *sessionStore) Put(ctx context.Context, account, token string) error {
	s.cache.Add(account, token)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (account, token) VALUES (?, ?)
			ON CONFLICT (account) DO UPDATE SET token = excluded.token`,
		account, token,
	)
	return err
}

// Drop forgets a token that failed a liveness probe.
func (s *sessionStore) Drop(ctx context.Context, account string) error {
	s.cache.Remove(account)
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM sessions WHERE account = ?`,
		account,
	)
	return err
}
