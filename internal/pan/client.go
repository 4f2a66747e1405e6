package pan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default request parameters the web client sends with every API call.
const (
	DefaultBaseURL    = "https://pan.baidu.com"
	DefaultAppID      = "250528"
	DefaultChannel    = "chunlei"
	DefaultClientType = "0"

	// DefaultDownloadUserAgent is the user agent the provider expects on
	// dlink follow-through and file downloads.
	DefaultDownloadUserAgent = "netdisk;P2SP;3.0.0.127"

	maxResponseBody = 8 << 20
)

// ClientConfig holds the provider parameters for NewClient. Zero fields take
// the Default* values.
type ClientConfig struct {
	BaseURL           string
	AppID             string
	Channel           string
	ClientType        string
	UserAgent         string
	DownloadUserAgent string
	Timeout           time.Duration
	Transport         http.RoundTripper

	// Resolver handles dlinks that land on an HTML page instead of
	// redirecting to the file. Optional.
	Resolver PageResolver
}

// Client issues requests against the provider's web API. It holds no
// per-account state; every method takes the *Session to act for. Each
// method makes a single attempt; retry policy belongs to the caller.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	// now and newLogID are overridden in tests for deterministic params.
	now      func() time.Time
	newLogID func() string
}

// NewClient creates a provider API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}

	if cfg.ClientType == "" {
		cfg.ClientType = DefaultClientType
	}

	if cfg.DownloadUserAgent == "" {
		cfg.DownloadUserAgent = DefaultDownloadUserAgent
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newLogID: uuid.NewString,
	}
}

// BaseURL returns the provider origin the client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// DownloadUserAgent returns the user agent used for file downloads.
func (c *Client) DownloadUserAgent() string {
	return c.cfg.DownloadUserAgent
}

// NewSession creates an empty session bound to this client's origin.
func (c *Client) NewSession() (*Session, error) {
	return NewSession(SessionOptions{
		BaseURL:   c.cfg.BaseURL,
		UserAgent: c.cfg.UserAgent,
		Timeout:   c.cfg.Timeout,
		Transport: c.cfg.Transport,
	})
}

// commonParams returns the parameters every web API call carries. A fresh
// logid is generated per request.
func (c *Client) commonParams(token string) url.Values {
	v := url.Values{}
	v.Set("channel", c.cfg.Channel)
	v.Set("web", "1")
	v.Set("app_id", c.cfg.AppID)
	v.Set("clienttype", c.cfg.ClientType)
	v.Set("logid", c.newLogID())

	if token != "" {
		v.Set("bdstoken", token)
	}

	return v
}

// timestamp returns the millisecond timestamp the provider uses as a nonce.
func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// get performs a single GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, sess *Session, op, path string, query url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pan: %s: creating request: %w", op, err)
	}

	return c.do(sess, op, req, ErrProvider)
}

// postForm performs a single form-encoded POST and returns the body of a
// 2xx response. Non-2xx responses are classified with sentinel.
func (c *Client) postForm(
	ctx context.Context, sess *Session, op, path string, query, form url.Values, sentinel error,
) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("pan: %s: creating request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	return c.do(sess, op, req, sentinel)
}

func (c *Client) do(sess *Session, op string, req *http.Request, sentinel error) ([]byte, error) {
	req.Header.Set("User-Agent", sess.UserAgent())
	req.Header.Set("Referer", c.cfg.BaseURL+"/disk/home")

	resp, err := sess.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("pan: %s: request canceled: %w", op, ctxErr)
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrNetwork, op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sess.InvalidateToken()
		}

		c.logger.Debug("request failed",
			slog.String("op", op),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)

		return nil, statusError(op, resp.StatusCode, body, sentinel)
	}

	c.logger.Debug("request succeeded",
		slog.String("op", op),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
	)

	return body, nil
}

// envelope is the status header every JSON response carries.
type envelope struct {
	Errno   flexInt `json:"errno"`
	ShowMsg string  `json:"show_msg"`
	ErrMsg  string  `json:"errmsg"`
}

// decode checks the errno envelope and unmarshals body into v (which may be
// nil). A non-zero errno becomes a ProviderError carrying sentinel; errno -6
// also drops the session's cached token.
func decode(sess *Session, op string, body []byte, v any, sentinel error) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrParse, op, err)
	}

	if env.Errno != errnoOK {
		if env.Errno == errnoNotLoggedIn {
			sess.InvalidateToken()
		}

		msg := env.ShowMsg
		if msg == "" {
			msg = env.ErrMsg
		}

		return errnoError(op, int(env.Errno), msg, sentinel)
	}

	if v == nil {
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrParse, op, err)
	}

	return nil
}

// flexInt accepts a JSON number, a numeric string, or an empty string. The
// provider is inconsistent about which it sends for ids and flags.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}

	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return errors.Join(fmt.Errorf("pan: not an integer: %q", s), err)
		}

		n = int64(fl)
	}

	*f = flexInt(n)

	return nil
}
