package pan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

type transferResponse struct {
	TaskID flexInt `json:"task_id"`
	Info   []struct {
		Path  string  `json:"path"`
		FsID  flexInt `json:"fsid"`
		Errno flexInt `json:"errno"`
	} `json:"info"`
	Extra struct {
		List []struct {
			From     string  `json:"from"`
			To       string  `json:"to"`
			FromFsID flexInt `json:"from_fs_id"`
			ToFsID   flexInt `json:"to_fs_id"`
		} `json:"list"`
	} `json:"extra"`
	ShowMsg string `json:"show_msg"`
}

// Transfer copies a verified share's files into destPath in the account's
// own storage. It is not idempotent under DuplicateRenameCopy, so it makes
// exactly one attempt and never retries.
//
// Returns ErrAuth for an unverified reference or a session without the
// share security-key cookie, and a ProviderError wrapping ErrTransfer when
// the provider rejects the transfer.
func (c *Client) Transfer(
	ctx context.Context, sess *Session, ref *ShareReference, destPath string, onDup DuplicatePolicy,
) (*TransferResult, error) {
	if !ref.Verified() {
		return nil, fmt.Errorf("%w: share reference is not verified", ErrAuth)
	}

	sekey := sess.Cookie(CookieSecurityKey)
	if sekey == "" {
		return nil, fmt.Errorf("%w: session has no %s cookie; verify the share first", ErrAuth, CookieSecurityKey)
	}

	if onDup == "" {
		onDup = DuplicateRenameCopy
	}

	if destPath == "" {
		destPath = "/"
	}

	tok, err := c.AntiCSRFToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	ids := ref.FileIDs()

	fsids, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("pan: encoding fs ids: %w", err)
	}

	uk := strconv.FormatInt(ref.UK, 10)
	shareID := strconv.FormatInt(ref.ID, 10)

	query := url.Values{}
	query.Set("shareid", shareID)
	query.Set("from", uk)
	query.Set("ondup", string(onDup))
	query.Set("async", "1")

	form := c.commonParams(tok)
	form.Set("from_uk", uk)
	form.Set("from_shareid", shareID)
	form.Set("from_fsids", string(fsids))
	form.Set("fsidlist", string(fsids))
	form.Set("sekey", sekey)
	form.Set("to", destPath)
	form.Set("path", destPath)
	form.Set("ondup", string(onDup))
	form.Set("async", "1")

	c.logger.Info("transferring share",
		slog.String("share", ref.ShareID),
		slog.Int("files", len(ids)),
		slog.String("dest", destPath),
		slog.String("ondup", string(onDup)),
	)

	body, err := c.postForm(ctx, sess, "transfer", "/share/transfer", query, form, ErrTransfer)
	if err != nil {
		return nil, err
	}

	var resp transferResponse
	if err := decode(sess, "transfer", body, &resp, ErrTransfer); err != nil {
		return nil, err
	}

	result := &TransferResult{Message: resp.ShowMsg, TaskID: int64(resp.TaskID)}

	done := make(map[int64]bool, len(ids))
	for _, it := range resp.Extra.List {
		result.Items = append(result.Items, TransferredItem{
			From:   it.From,
			To:     it.To,
			FsID:   int64(it.FromFsID),
			ToFsID: int64(it.ToFsID),
		})
		done[int64(it.FromFsID)] = true
	}

	for _, it := range resp.Info {
		if it.Errno == errnoOK {
			done[int64(it.FsID)] = true
		}
	}

	// An async transfer reports no items; nothing can be called missing yet.
	if len(done) > 0 {
		for _, id := range ids {
			if !done[id] {
				result.Missing = append(result.Missing, id)
			}
		}
	}

	if len(result.Missing) > 0 {
		c.logger.Warn("transfer partially succeeded",
			slog.String("share", ref.ShareID),
			slog.Int("missing", len(result.Missing)),
		)
	}

	return result, nil
}
