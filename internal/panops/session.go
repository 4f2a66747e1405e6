package panops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tonimelisma/pansave/internal/cookiefile"
	"github.com/tonimelisma/pansave/internal/pan"
)

// ErrNotLoggedIn means there is no saved cookie file to build a session from.
var ErrNotLoggedIn = errors.New("panops: not logged in")

// Cookie file metadata keys.
const (
	metaUK       = "uk"
	metaUsername = "username"
)

// SessionProvider turns the saved cookie file into an authenticated
// pan.Session and caches it, so every command in one process shares a jar
// and a cached anti-CSRF token.
type SessionProvider struct {
	client     *pan.Client
	cookiePath string
	retry      RetryPolicy
	logger     *slog.Logger

	mu   sync.Mutex
	sess *pan.Session
}

// NewSessionProvider creates a SessionProvider for the cookie file at
// cookiePath.
func NewSessionProvider(client *pan.Client, cookiePath string, retry RetryPolicy, logger *slog.Logger) *SessionProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionProvider{
		client:     client,
		cookiePath: cookiePath,
		retry:      retry,
		logger:     logger,
	}
}

// Client returns the protocol client sessions are created with.
func (p *SessionProvider) Client() *pan.Client {
	return p.client
}

// CookiePath returns the cookie file location.
func (p *SessionProvider) CookiePath() string {
	return p.cookiePath
}

// Session returns the cached session, authenticating from the cookie file on
// first use. A missing cookie file is ErrNotLoggedIn.
func (p *SessionProvider) Session(ctx context.Context) (*pan.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != nil {
		return p.sess, nil
	}

	f, err := cookiefile.Load(p.cookiePath)
	if err != nil {
		return nil, fmt.Errorf("panops: loading cookies: %w", err)
	}

	if f == nil {
		return nil, fmt.Errorf("%w: run 'pansave login' first", ErrNotLoggedIn)
	}

	sess, err := p.authenticate(ctx, f.Cookies)
	if err != nil {
		return nil, err
	}

	p.sess = sess

	return sess, nil
}

// Login authenticates a freshly imported cookie set and saves it. The saved
// file only ever holds cookies the provider has accepted.
func (p *SessionProvider) Login(ctx context.Context, cookies map[string]string) (*pan.Session, error) {
	sess, err := p.authenticate(ctx, cookies)
	if err != nil {
		return nil, err
	}

	if err := p.Persist(sess); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()

	return sess, nil
}

// Logout removes the cookie file and forgets the cached session.
func (p *SessionProvider) Logout() error {
	p.Invalidate()

	if err := cookiefile.Remove(p.cookiePath); err != nil {
		return fmt.Errorf("panops: removing cookies: %w", err)
	}

	return nil
}

// Persist writes the session's current cookies back to the cookie file, so
// share-scoped cookies picked up during a run survive it.
func (p *SessionProvider) Persist(sess *pan.Session) error {
	meta := map[string]string{
		metaUK:       strconv.FormatInt(sess.UK(), 10),
		metaUsername: sess.Username(),
	}

	if err := cookiefile.Save(p.cookiePath, sess.Cookies(), meta); err != nil {
		return fmt.Errorf("panops: saving cookies: %w", err)
	}

	p.logger.Debug("cookies saved", slog.String("path", p.cookiePath))

	return nil
}

// Invalidate drops the cached session; the next Session call
// re-authenticates from the cookie file. Used when the file changes on disk.
func (p *SessionProvider) Invalidate() {
	p.mu.Lock()
	p.sess = nil
	p.mu.Unlock()
}

// WatchCookies invalidates the cached session whenever the cookie file is
// rewritten, e.g. by a browser export during a long batch. Blocks until ctx
// is done.
func (p *SessionProvider) WatchCookies(ctx context.Context) error {
	return cookiefile.Watch(ctx, p.cookiePath, func(f *cookiefile.File) {
		p.logger.Info("cookie file changed, session will re-authenticate",
			slog.Int("cookies", len(f.Cookies)),
			slog.Time("saved_at", f.SavedAt),
		)
		p.Invalidate()
	}, p.logger)
}

func (p *SessionProvider) authenticate(ctx context.Context, cookies map[string]string) (*pan.Session, error) {
	return Retry(ctx, p.retry, p.logger, "authenticate", func(ctx context.Context) (*pan.Session, error) {
		return p.client.Authenticate(ctx, pan.Credentials{Cookies: cookies})
	})
}
