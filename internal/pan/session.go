package pan

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie names the provider relies on.
const (
	CookieLogin       = "BDUSS"
	CookieSecure      = "STOKEN"
	CookieSecurityKey = "BDCLND"
)

// DefaultUserAgent is sent on API requests unless the session overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Session is an authenticated browsing context: a cookie jar, the cached
// anti-CSRF token and the account owner id. Safe for concurrent use; the jar
// synchronizes itself and mu guards the cached fields.
type Session struct {
	jar       *cookiejar.Jar
	cookieURL *url.URL
	// cookieDomain is the registrable domain of the origin, so login cookies
	// also reach the download hosts under it. Empty for IP and single-label
	// hosts, which only take host-only cookies.
	cookieDomain string
	http      *http.Client
	userAgent string

	mu       sync.Mutex
	bdstoken string
	uk       int64
	username string
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	// BaseURL is the origin cookies are scoped to.
	BaseURL string
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// Timeout bounds each API request. Zero means no timeout.
	Timeout time.Duration
	// Transport overrides http.DefaultTransport (tests, proxies).
	Transport http.RoundTripper
}

// NewSession creates an empty session with its own cookie jar.
func NewSession(opts SessionOptions) (*Session, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("pan: invalid base URL %q", opts.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("pan: creating cookie jar: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &Session{
		jar:          jar,
		cookieURL:    &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		cookieDomain: registrableDomain(u.Hostname()),
		http: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		userAgent: ua,
	}, nil
}

func registrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}

	return domain
}

// SetCookies adds cookies to the jar, scoped to the provider's registrable
// domain (baidu.com for pan.baidu.com) so file hosts such as d.pcs.baidu.com
// receive them too.
func (s *Session) SetCookies(cookies map[string]string) {
	list := make([]*http.Cookie, 0, 2*len(cookies))
	for name, value := range cookies {
		if s.cookieDomain != "" {
			// Drop a host-only copy the server set, so the new value is the
			// only one sent.
			list = append(list, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
		}

		list = append(list, &http.Cookie{Name: name, Value: value, Path: "/", Domain: s.cookieDomain})
	}

	s.jar.SetCookies(s.cookieURL, list)
}

// Cookie returns the named cookie's value, or "" if absent.
func (s *Session) Cookie(name string) string {
	for _, c := range s.jar.Cookies(s.cookieURL) {
		if c.Name == name {
			return c.Value
		}
	}

	return ""
}

// Cookies returns the current cookie set, for persistence by the caller.
func (s *Session) Cookies() map[string]string {
	jarCookies := s.jar.Cookies(s.cookieURL)
	out := make(map[string]string, len(jarCookies))

	for _, c := range jarCookies {
		out[c.Name] = c.Value
	}

	return out
}

// HTTPClient returns the API client bound to this session's jar.
func (s *Session) HTTPClient() *http.Client {
	return s.http
}

// DownloadClient returns a client sharing the session's jar and transport
// but with no overall timeout, for file bodies that take longer than any
// API call.
func (s *Session) DownloadClient() *http.Client {
	return &http.Client{Jar: s.jar, Transport: s.http.Transport}
}

// UserAgent returns the session's API user agent.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// UK returns the account owner id learned during authentication.
func (s *Session) UK() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.uk
}

// Username returns the account display name learned during authentication.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.username
}

// InvalidateToken drops the cached anti-CSRF token so the next call
// refetches it.
func (s *Session) InvalidateToken() {
	s.mu.Lock()
	s.bdstoken = ""
	s.mu.Unlock()
}

func (s *Session) cachedToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bdstoken
}

func (s *Session) setToken(tok string) {
	s.mu.Lock()
	s.bdstoken = tok
	s.mu.Unlock()
}

func (s *Session) setAccount(uk int64, username string) {
	s.mu.Lock()
	if uk != 0 {
		s.uk = uk
	}

	if username != "" {
		s.username = username
	}
	s.mu.Unlock()
}

// Clone returns an independent session holding a copy of the cookies and
// none of the cached state. Use it to run work that must not share
// share-scoped cookies with the parent.
func (s *Session) Clone() (*Session, error) {
	c, err := NewSession(SessionOptions{
		BaseURL:   s.cookieURL.String(),
		UserAgent: s.userAgent,
		Timeout:   s.http.Timeout,
		Transport: s.http.Transport,
	})
	if err != nil {
		return nil, err
	}

	c.SetCookies(s.Cookies())

	return c, nil
}
