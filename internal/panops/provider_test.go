package panops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/pansave/internal/cookiefile"
	"github.com/tonimelisma/pansave/internal/pan"
)

const (
	testBDUSS   = "bduss-value"
	testToken   = "a1b2c3d4e5f6"
	testSekey   = "sekey-value"
	testShareUK = 1001
	testShareID = 2002
	testFsID    = 3003
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// fastRetry keeps retry tests quick.
var fastRetry = RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%251) ^ seed
	}

	return b
}

type ownFile struct {
	fsID  int64
	isDir bool
	data  []byte
}

// fakePan is an in-process stand-in for the provider covering login,
// share verify/transfer, own listing, dlink resolution and file bodies.
type fakePan struct {
	t   *testing.T
	srv *httptest.Server

	surl     string
	password string
	files    []string // share top-level file names
	content  map[string][]byte

	mu            sync.Mutex
	verified      bool
	own           map[string]ownFile
	nextFsID      int64
	loginCalls    int
	loginFailures int // 503s before logins succeed
	transferErrno int
	transferMsg   string
	transferCalls int
	rangeRequests []string
}

func newFakePan(t *testing.T) *fakePan {
	t.Helper()

	p := &fakePan{
		t:        t,
		surl:     "ABC123",
		password: "xyz9",
		files:    []string{"game.zip"},
		content:  map[string][]byte{"game.zip": pattern(10*1024, 7)},
		own:      map[string]ownFile{},
		nextFsID: 9000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/loginStatus", p.handleLogin)
	mux.HandleFunc("/api/gettemplatevariable", p.handleTemplate)
	mux.HandleFunc("/share/init", p.handleLanding)
	mux.HandleFunc("/share/verify", p.handleVerify)
	mux.HandleFunc("/share/transfer", p.handleTransfer)
	mux.HandleFunc("/api/list", p.handleList)
	mux.HandleFunc("/api/filemetas", p.handleFileMetas)
	mux.HandleFunc("/data/", p.handleData)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	return p
}

func (p *fakePan) client() *pan.Client {
	return pan.NewClient(pan.ClientConfig{BaseURL: p.srv.URL, Timeout: 5 * time.Second}, p.tLogger())
}

func (p *fakePan) tLogger() *slog.Logger {
	return testLogger(p.t)
}

// addOwn places a file or directory in the account's storage.
func (p *fakePan) addOwn(remotePath string, data []byte, isDir bool) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextFsID++
	p.own[remotePath] = ownFile{fsID: p.nextFsID, isDir: isDir, data: data}

	return p.nextFsID
}

func (p *fakePan) ownData(remotePath string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.own[remotePath]

	return f.data, ok
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func loggedIn(r *http.Request) bool {
	c, err := r.Cookie(pan.CookieLogin)
	return err == nil && c.Value == testBDUSS
}

func (p *fakePan) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.loginCalls++
	fail := p.loginFailures > 0
	if fail {
		p.loginFailures--
	}
	p.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if !loggedIn(r) {
		fmt.Fprint(w, `{"errno":-6}`)
		return
	}

	writeJSON(p.t, w, map[string]any{"errno": 0, "login_info": map[string]any{
		"bdstoken": testToken, "uk": 42, "username": "alice",
	}})
}

func (p *fakePan) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if !loggedIn(r) {
		fmt.Fprint(w, `{"errno":-6}`)
		return
	}

	writeJSON(p.t, w, map[string]any{"errno": 0, "result": map[string]any{"bdstoken": testToken}})
}

func (p *fakePan) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("surl") != p.surl {
		http.NotFound(w, r)
		return
	}

	p.mu.Lock()
	verified := p.verified
	p.mu.Unlock()

	w.Header().Set("Content-Type", "text/html")

	if !verified {
		fmt.Fprint(w, `<html><body>enter extraction code</body></html>`)
		return
	}

	list := make([]string, 0, len(p.files))
	for i, name := range p.files {
		list = append(list, fmt.Sprintf(`{"fs_id":%d,"server_filename":%q,"path":%q,"size":%d,"isdir":0}`,
			testFsID+i, name, "/"+name, len(p.content[name])))
	}

	fmt.Fprintf(w, `<html><script>locals.mset({"uk":%d,"shareid":"%d","file_list":[%s]});</script></html>`,
		testShareUK, testShareID, strings.Join(list, ","))
}

func (p *fakePan) handleVerify(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())

	switch pwd := r.PostForm.Get("pwd"); {
	case pwd == p.password:
		p.mu.Lock()
		p.verified = true
		p.mu.Unlock()

		writeJSON(p.t, w, map[string]any{"errno": 0, "randsk": testSekey})
	case pwd == "":
		fmt.Fprint(w, `{"errno":-12}`)
	default:
		fmt.Fprint(w, `{"errno":-9,"show_msg":"extraction code incorrect"}`)
	}
}

func (p *fakePan) handleTransfer(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.transferCalls++

	if p.transferErrno != 0 {
		writeJSON(p.t, w, map[string]any{"errno": p.transferErrno, "show_msg": p.transferMsg})
		return
	}

	if c, err := r.Cookie(pan.CookieSecurityKey); err != nil || c.Value != testSekey {
		fmt.Fprint(w, `{"errno":-9,"show_msg":"share not verified"}`)
		return
	}

	var fsids []int64
	require.NoError(p.t, json.Unmarshal([]byte(r.PostForm.Get("fsidlist")), &fsids))

	dest := r.PostForm.Get("path")
	list := make([]map[string]any, 0, len(fsids))

	for _, id := range fsids {
		name := p.files[id-testFsID]
		to := path.Join(dest, name)

		if _, exists := p.own[to]; exists {
			switch r.PostForm.Get("ondup") {
			case string(pan.DuplicateRenameCopy):
				ext := path.Ext(name)
				to = path.Join(dest, strings.TrimSuffix(name, ext)+"(1)"+ext)
			case string(pan.DuplicateFail):
				fmt.Fprint(w, `{"errno":4,"show_msg":"file already exists"}`)
				return
			}
		}

		p.nextFsID++
		p.own[to] = ownFile{fsID: p.nextFsID, data: p.content[name]}
		list = append(list, map[string]any{"from": "/" + name, "to": to, "from_fs_id": id, "to_fs_id": p.nextFsID})
	}

	writeJSON(p.t, w, map[string]any{
		"errno": 0, "task_id": 0, "show_msg": "transfer complete",
		"extra": map[string]any{"list": list},
	})
}

func (p *fakePan) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir := q.Get("dir")
	page, _ := strconv.Atoi(q.Get("page"))
	num, _ := strconv.Atoi(q.Get("num"))

	p.mu.Lock()

	var names []string

	for fp := range p.own {
		if path.Dir(fp) == dir && fp != dir {
			names = append(names, fp)
		}
	}

	sort.Strings(names)

	list := []map[string]any{}

	for i, fp := range names {
		if i < (page-1)*num || i >= page*num {
			continue
		}

		f := p.own[fp]
		isDir := 0

		if f.isDir {
			isDir = 1
		}

		list = append(list, map[string]any{
			"fs_id": f.fsID, "server_filename": path.Base(fp), "path": fp,
			"size": len(f.data), "isdir": isDir, "server_mtime": 1700000000,
		})
	}
	p.mu.Unlock()

	writeJSON(p.t, w, map[string]any{"errno": 0, "list": list})
}

func (p *fakePan) handleFileMetas(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	require.NoError(p.t, json.Unmarshal([]byte(r.URL.Query().Get("fsids")), &ids))
	require.Len(p.t, ids, 1)

	p.mu.Lock()
	found := false

	for _, f := range p.own {
		if f.fsID == ids[0] && !f.isDir {
			found = true
		}
	}
	p.mu.Unlock()

	if !found {
		fmt.Fprint(w, `{"errno":12}`)
		return
	}

	writeJSON(p.t, w, map[string]any{"errno": 0, "info": []map[string]any{{
		"fs_id": ids[0], "dlink": p.srv.URL + "/data/" + strconv.FormatInt(ids[0], 10),
	}}})
}

func (p *fakePan) handleData(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/data/"), 10, 64)
	require.NoError(p.t, err)

	p.mu.Lock()
	p.rangeRequests = append(p.rangeRequests, r.Header.Get("Range"))

	var data []byte

	found := false

	for _, f := range p.own {
		if f.fsID == id {
			data, found = f.data, true
		}
	}
	p.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// login writes a cookie file for the fake account and returns its path.
func (p *fakePan) login(t *testing.T) string {
	t.Helper()

	cookiePath := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookiefile.Save(cookiePath, map[string]string{
		pan.CookieLogin: testBDUSS, pan.CookieSecure: "stoken",
	}, nil))

	return cookiePath
}
