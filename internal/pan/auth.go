package pan

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
)

// Credentials is a previously saved cookie set. Interactive login happens
// outside this package; the caller imports cookies from a browser.
type Credentials struct {
	Cookies map[string]string
}

// loginStatusResponse is the body of GET /api/loginStatus.
type loginStatusResponse struct {
	LoginInfo struct {
		BDSToken string  `json:"bdstoken"`
		UK       flexInt `json:"uk"`
		Username string  `json:"username"`
	} `json:"login_info"`
}

// Authenticate builds a session from saved cookies and confirms with the
// provider that the login is live. Returns ErrAuth when the login cookie is
// missing or the provider rejects it.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Cookies[CookieLogin] == "" {
		return nil, fmt.Errorf("%w: cookie set has no %s", ErrAuth, CookieLogin)
	}

	sess, err := c.NewSession()
	if err != nil {
		return nil, err
	}

	sess.SetCookies(creds.Cookies)

	q := url.Values{}
	q.Set("clienttype", c.cfg.ClientType)
	q.Set("app_id", c.cfg.AppID)
	q.Set("web", "1")
	q.Set("channel", c.cfg.Channel)

	body, err := c.get(ctx, sess, "login status", "/api/loginStatus", q)
	if err != nil {
		return nil, err
	}

	var resp loginStatusResponse
	if err := decode(sess, "login status", body, &resp, ErrAuth); err != nil {
		return nil, err
	}

	if resp.LoginInfo.UK == 0 && resp.LoginInfo.BDSToken == "" {
		return nil, fmt.Errorf("%w: login status carries no account", ErrAuth)
	}

	sess.setAccount(int64(resp.LoginInfo.UK), resp.LoginInfo.Username)

	if resp.LoginInfo.BDSToken != "" {
		sess.setToken(resp.LoginInfo.BDSToken)
	}

	c.logger.Info("session authenticated",
		slog.Int64("uk", int64(resp.LoginInfo.UK)),
		slog.String("username", resp.LoginInfo.Username),
	)

	return sess, nil
}

// templateVariableResponse is the body of GET /api/gettemplatevariable.
type templateVariableResponse struct {
	Result struct {
		BDSToken string `json:"bdstoken"`
	} `json:"result"`
}

var bdstokenPattern = regexp.MustCompile(`"bdstoken"\s*:\s*"([0-9a-fA-F]+)"`)

// AntiCSRFToken returns the session's bdstoken, fetching it when no cached
// value exists. Returns ErrAuth if the session is not logged in.
func (c *Client) AntiCSRFToken(ctx context.Context, sess *Session) (string, error) {
	if tok := sess.cachedToken(); tok != "" {
		return tok, nil
	}

	q := url.Values{}
	q.Set("fields", `["bdstoken","token","uk","username"]`)
	q.Set("clienttype", c.cfg.ClientType)
	q.Set("app_id", c.cfg.AppID)
	q.Set("web", "1")

	body, err := c.get(ctx, sess, "template variable", "/api/gettemplatevariable", q)
	if err != nil {
		return "", err
	}

	var resp templateVariableResponse
	if err := decode(sess, "template variable", body, &resp, ErrAuth); err != nil {
		return "", err
	}

	tok := resp.Result.BDSToken
	if tok == "" {
		if m := bdstokenPattern.FindSubmatch(body); m != nil {
			tok = string(m[1])
		}
	}

	if tok == "" {
		return "", fmt.Errorf("%w: no bdstoken in response", ErrAuth)
	}

	sess.setToken(tok)
	c.logger.Debug("fetched anti-CSRF token")

	return tok, nil
}
