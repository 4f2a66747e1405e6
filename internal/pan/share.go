package pan

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ShareLink is a share URL split into its identifier and the extraction
// code carried in the pwd query parameter, if any.
type ShareLink struct {
	ShareID  string
	Password string
}

// NormalizeShareID extracts the share identifier from either known URL
// shape: the surl query parameter (/share/init?surl=X) or the path segment
// after /s/ (/s/X). Returns ErrParse for anything else.
func NormalizeShareID(rawURL string) (string, error) {
	link, err := ParseShareLink(rawURL)
	if err != nil {
		return "", err
	}

	return link.ShareID, nil
}

// ParseShareLink is NormalizeShareID plus the pwd query parameter.
func ParseShareLink(rawURL string) (ShareLink, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ShareLink{}, fmt.Errorf("%w: share URL %q: %w", ErrParse, rawURL, err)
	}

	q := u.Query()
	link := ShareLink{Password: q.Get("pwd")}

	if surl := q.Get("surl"); surl != "" {
		link.ShareID = surl
		return link, nil
	}

	if rest, ok := strings.CutPrefix(u.Path, "/s/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		if id != "" {
			link.ShareID = id
			return link, nil
		}
	}

	return ShareLink{}, fmt.Errorf("%w: no share id in %q", ErrParse, rawURL)
}

type verifyResponse struct {
	RandSK string `json:"randsk"`
}

// Verify submits the extraction code for a share and extracts the owner id,
// share id and file ids from the now-authorized landing page.
//
// A protected share verified with an empty password yields
// VerifyNeedsPassword and a nil error. Any other provider rejection is a
// ProviderError wrapping ErrShareVerify. ErrParse means no known page
// format matched.
func (c *Client) Verify(ctx context.Context, sess *Session, shareID, password string) (VerifyResult, error) {
	if shareID == "" {
		return VerifyResult{}, fmt.Errorf("%w: empty share id", ErrParse)
	}

	landing := url.Values{}
	landing.Set("surl", shareID)

	// The landing page sets share-scoped cookies the verify call depends on.
	if _, err := c.getShareVerify(ctx, sess, "share landing", "/share/init", landing); err != nil {
		return VerifyResult{}, err
	}

	tok, err := c.AntiCSRFToken(ctx, sess)
	if err != nil {
		return VerifyResult{}, err
	}

	ts := c.timestamp()
	query := url.Values{}
	query.Set("surl", shareID)
	query.Set("t", ts)

	form := c.commonParams(tok)
	form.Set("surl", shareID)
	form.Set("t", ts)
	form.Set("pwd", password)
	form.Set("vcode", "")
	form.Set("vcode_str", "")

	body, err := c.postForm(ctx, sess, "share verify", "/share/verify", query, form, ErrShareVerify)
	if err != nil {
		return VerifyResult{}, err
	}

	var resp verifyResponse
	if err := decode(sess, "share verify", body, &resp, ErrShareVerify); err != nil {
		if password == "" && isPasswordRequired(err) {
			c.logger.Info("share requires extraction code", slog.String("share", shareID))
			return VerifyResult{Status: VerifyNeedsPassword}, nil
		}

		return VerifyResult{}, err
	}

	// randsk is this share's security key. A jar reused across shares may
	// still hold the previous share's key, so it always wins.
	if resp.RandSK != "" {
		sess.SetCookies(map[string]string{CookieSecurityKey: resp.RandSK})
	}

	page, err := c.getShareVerify(ctx, sess, "share page", "/share/init", landing)
	if err != nil {
		return VerifyResult{}, err
	}

	data, name, ok := extractShareData(page, defaultExtractors)
	if !ok {
		return VerifyResult{}, fmt.Errorf("%w: share %s: no known page format matched", ErrParse, shareID)
	}

	c.logger.Info("share verified",
		slog.String("share", shareID),
		slog.String("format", name),
		slog.Int("files", len(data.Files)),
	)

	return VerifyResult{
		Status: VerifyResolved,
		Ref: &ShareReference{
			ShareID:  shareID,
			Password: password,
			UK:       data.UK,
			ID:       data.ShareID,
			Files:    data.Files,
			verified: true,
		},
	}, nil
}

func (c *Client) getShareVerify(ctx context.Context, sess *Session, op, path string, q url.Values) ([]byte, error) {
	body, err := c.get(ctx, sess, op, path, q)
	if err != nil {
		if pe, ok := asProviderError(err); ok && pe.Err == ErrProvider {
			pe.Err = ErrShareVerify
		}

		return nil, err
	}

	return body, nil
}

func isPasswordRequired(err error) bool {
	pe, ok := asProviderError(err)
	if !ok {
		return false
	}

	return pe.Errno == errnoNeedsPassword || pe.Errno == errnoWrongPassword
}
