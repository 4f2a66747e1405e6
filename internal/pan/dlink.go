package pan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
)

// PageResolver turns a download landing page into a final file URL, for
// links whose follow-through needs a real browser. Implemented outside this
// package.
type PageResolver interface {
	ResolvePage(ctx context.Context, pageURL string) (string, error)
}

type fileMetasResponse struct {
	Info []struct {
		FsID  flexInt `json:"fs_id"`
		Path  string  `json:"path"`
		DLink string  `json:"dlink"`
	} `json:"info"`
}

// ResolveDirectLink returns a short-lived direct download URL for a file in
// the account's own storage. The provider's dlink is followed once without
// redirects: a redirect target is the direct URL, a file response means the
// dlink is already direct, and an HTML page goes to the PageResolver.
func (c *Client) ResolveDirectLink(ctx context.Context, sess *Session, fsID int64) (string, error) {
	tok, err := c.AntiCSRFToken(ctx, sess)
	if err != nil {
		return "", err
	}

	q := c.commonParams(tok)
	q.Set("fsids", "["+strconv.FormatInt(fsID, 10)+"]")
	q.Set("dlink", "1")

	body, err := c.get(ctx, sess, "file metas", "/api/filemetas", q)
	if err != nil {
		return "", err
	}

	var resp fileMetasResponse
	if err := decode(sess, "file metas", body, &resp, ErrProvider); err != nil {
		return "", err
	}

	if len(resp.Info) == 0 || resp.Info[0].DLink == "" {
		return "", fmt.Errorf("%w: no dlink for fs id %d", ErrParse, fsID)
	}

	return c.followDLink(ctx, sess, resp.Info[0].DLink)
}

func (c *Client) followDLink(ctx context.Context, sess *Session, dlink string) (string, error) {
	noRedirect := *sess.HTTPClient()
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlink, nil)
	if err != nil {
		return "", fmt.Errorf("%w: dlink %q: %w", ErrParse, dlink, err)
	}

	req.Header.Set("User-Agent", c.cfg.DownloadUserAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := noRedirect.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("pan: resolving dlink: request canceled: %w", ctxErr)
		}

		return "", fmt.Errorf("%w: resolving dlink: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest:
		loc, err := resp.Location()
		if err != nil {
			return "", fmt.Errorf("%w: dlink redirect without location", ErrParse)
		}

		c.logger.Debug("dlink redirected", slog.String("host", loc.Host))

		return loc.String(), nil

	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		if !isHTML(resp.Header.Get("Content-Type")) {
			return dlink, nil
		}

		if c.cfg.Resolver == nil {
			return "", fmt.Errorf("%w: dlink landed on a page and no page resolver is configured", ErrParse)
		}

		c.logger.Debug("dlink landed on a page, delegating to page resolver")

		final, err := c.cfg.Resolver.ResolvePage(ctx, dlink)
		if err != nil {
			return "", fmt.Errorf("pan: page resolver: %w", err)
		}

		if _, err := url.ParseRequestURI(final); err != nil {
			return "", fmt.Errorf("%w: page resolver returned %q", ErrParse, final)
		}

		return final, nil

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sess.InvalidateToken()
		}

		return "", statusError("resolve dlink", resp.StatusCode, msg, ErrProvider)
	}
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/html"
}
