package pan

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
)

type listResponse struct {
	List []rawFile `json:"list"`
}

// ListOwn returns one page of the account's own directory listing. An empty
// directory yields an empty slice and a nil error; any non-zero errno is a
// ProviderError wrapping ErrProvider.
func (c *Client) ListOwn(ctx context.Context, sess *Session, opts ListOptions) ([]FileEntry, error) {
	opts = opts.withDefaults()

	tok, err := c.AntiCSRFToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	q := c.commonParams(tok)
	q.Set("dir", opts.Dir)
	q.Set("order", string(opts.Order))
	q.Set("desc", boolParam(opts.Desc))
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("num", strconv.Itoa(opts.PageSize))
	q.Set("showempty", "1")

	body, err := c.get(ctx, sess, "list", "/api/list", q)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := decode(sess, "list", body, &resp, ErrProvider); err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(resp.List))
	for _, f := range resp.List {
		entries = append(entries, f.entry())
	}

	c.logger.Debug("listed directory",
		slog.String("dir", opts.Dir),
		slog.Int("page", opts.Page),
		slog.Int("entries", len(entries)),
	)

	return entries, nil
}

// WalkOwn lazily pages through a directory starting at opts.Page, stopping
// after the first page shorter than opts.PageSize or at the first error.
func (c *Client) WalkOwn(ctx context.Context, sess *Session, opts ListOptions) iter.Seq2[FileEntry, error] {
	opts = opts.withDefaults()

	return func(yield func(FileEntry, error) bool) {
		for page := opts.Page; ; page++ {
			p := opts
			p.Page = page

			entries, err := c.ListOwn(ctx, sess, p)
			if err != nil {
				yield(FileEntry{}, err)
				return
			}

			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}

			if len(entries) < opts.PageSize {
				return
			}
		}
	}
}

// ListShare lists the entries of a verified share. An empty subpath lists
// the share root. Returns ErrAuth for an unverified reference.
func (c *Client) ListShare(ctx context.Context, sess *Session, ref *ShareReference, subpath string) ([]FileEntry, error) {
	if !ref.Verified() {
		return nil, fmt.Errorf("%w: share reference is not verified", ErrAuth)
	}

	q := url.Values{}
	q.Set("uk", strconv.FormatInt(ref.UK, 10))
	q.Set("shareid", strconv.FormatInt(ref.ID, 10))
	q.Set("order", "other")
	q.Set("desc", "1")
	q.Set("showempty", "0")
	q.Set("web", "1")
	q.Set("page", "1")
	q.Set("num", strconv.Itoa(shareListPageSize))
	q.Set("channel", c.cfg.Channel)
	q.Set("app_id", c.cfg.AppID)
	q.Set("clienttype", c.cfg.ClientType)

	if subpath == "" || subpath == "/" {
		q.Set("shorturl", ref.ShareID)
		q.Set("root", "1")
	} else {
		q.Set("dir", subpath)
	}

	if sk := sess.Cookie(CookieSecurityKey); sk != "" {
		q.Set("sekey", sk)
	}

	body, err := c.get(ctx, sess, "share list", "/share/list", q)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := decode(sess, "share list", body, &resp, ErrProvider); err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(resp.List))
	for _, f := range resp.List {
		entries = append(entries, f.entry())
	}

	return entries, nil
}

const shareListPageSize = 1000

func boolParam(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
