package pan

import (
	"bytes"
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"strconv"
)

// ShareData is what an Extractor recovers from a share landing page.
type ShareData struct {
	UK      int64
	ShareID int64
	Files   []ShareFile
}

func (d ShareData) valid() bool {
	return d.UK != 0 && d.ShareID != 0 && d.hasFiles()
}

func (d ShareData) hasFiles() bool {
	for i := range d.Files {
		if d.Files[i].FsID != 0 {
			return true
		}
	}

	return false
}

// Extractor recovers share metadata from one of the inline-script formats
// the provider embeds in share pages. Extract reports false when its format
// is absent or incomplete.
type Extractor interface {
	Name() string
	Extract(page []byte) (ShareData, bool)
}

// defaultExtractors is tried in order; the first valid result wins.
var defaultExtractors = []Extractor{
	callExtractor{name: "locals.mset", marker: []byte("locals.mset(")},
	callExtractor{name: "yunData.setData", marker: []byte("yunData.setData(")},
	yunDataAssignExtractor{list: "FILEINFO"},
	yunDataAssignExtractor{list: "SHARE_FILE_LIST"},
	jsObjectExtractor{name: "locals.mset assignment", marker: []byte("locals.mset")},
	jsObjectExtractor{name: "filedata", marker: []byte("filedata")},
	attrExtractor{name: "data-context", attr: regexp.MustCompile(`data-context="([^"]*)"`)},
	attrExtractor{name: "data-fileinfo", attr: regexp.MustCompile(`data-fileinfo="([^"]*)"`)},
	jsObjectExtractor{name: "var context", marker: []byte("var context")},
	jsObjectExtractor{name: "var yunData", marker: []byte("var yunData")},
	shareInfoExtractor{},
	looseFieldExtractor{},
}

// extractShareData runs extractors in order and returns the first valid
// result along with the name of the format that produced it. Formats that
// carry only the file list take the share ids from elsewhere on the page.
func extractShareData(page []byte, extractors []Extractor) (ShareData, string, bool) {
	for _, ex := range extractors {
		data, ok := ex.Extract(page)
		if !ok {
			continue
		}

		data = withPageIDs(data, page)
		if data.valid() {
			return data, ex.Name(), true
		}
	}

	return ShareData{}, "", false
}

func withPageIDs(d ShareData, page []byte) ShareData {
	if d.UK == 0 {
		if uk, ok := firstInt(shareUKAssign, page); ok {
			d.UK = uk
		} else if uk, ok := firstInt(looseUK, page); ok {
			d.UK = uk
		}
	}

	if d.ShareID == 0 {
		if id, ok := firstInt(shareIDAssign, page); ok {
			d.ShareID = id
		} else if id, ok := firstInt(looseShareID, page); ok {
			d.ShareID = id
		}
	}

	return d
}

// sharePayload covers the JSON object shapes the page formats embed.
type sharePayload struct {
	UK            flexInt  `json:"uk"`
	ShareUK       flexInt  `json:"share_uk"`
	ShareID       flexInt  `json:"shareid"`
	ShareID2      flexInt  `json:"share_id"`
	FileList      fileList `json:"file_list"`
	List          fileList `json:"list"`
	Files         fileList `json:"files"`
	FileInfo      fileList `json:"FILEINFO"`
	ShareFileList fileList `json:"SHARE_FILE_LIST"`
}

func (p sharePayload) data() ShareData {
	d := ShareData{UK: int64(p.UK), ShareID: int64(p.ShareID)}
	if d.UK == 0 {
		d.UK = int64(p.ShareUK)
	}

	if d.ShareID == 0 {
		d.ShareID = int64(p.ShareID2)
	}

	for _, files := range []fileList{p.FileList, p.List, p.Files, p.FileInfo, p.ShareFileList} {
		if len(files) > 0 {
			d.Files = files.shareFiles()
			break
		}
	}

	return d
}

// fileList accepts either a bare array or an object wrapping it in "list".
type fileList []rawFile

func (l *fileList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		return nil
	}

	if b[0] == '[' {
		var files []rawFile
		if err := json.Unmarshal(b, &files); err != nil {
			return err
		}

		*l = files

		return nil
	}

	var wrapped struct {
		List []rawFile `json:"list"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}

	*l = wrapped.List

	return nil
}

func (l fileList) shareFiles() []ShareFile {
	out := make([]ShareFile, 0, len(l))
	for _, f := range l {
		out = append(out, f.shareFile())
	}

	return out
}

// decodePayload decodes a share object, or a bare file array.
func decodePayload(b []byte) (ShareData, bool) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var files fileList
		if err := json.Unmarshal(b, &files); err != nil {
			return ShareData{}, false
		}

		return ShareData{Files: files.shareFiles()}, true
	}

	var p sharePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return ShareData{}, false
	}

	return p.data(), true
}

// callExtractor handles formats where a JSON object is passed to a
// function call: locals.mset({...}) and yunData.setData({...}).
type callExtractor struct {
	name   string
	marker []byte
}

func (e callExtractor) Name() string { return e.name }

func (e callExtractor) Extract(page []byte) (ShareData, bool) {
	obj, ok := valueAfter(page, e.marker)
	if !ok {
		return ShareData{}, false
	}

	return decodePayload(obj)
}

var (
	shareUKAssign = regexp.MustCompile(`yunData\.SHARE_UK\s*=\s*["']?(\d+)`)
	shareIDAssign = regexp.MustCompile(`yunData\.SHARE_ID\s*=\s*["']?(\d+)`)
)

// yunDataAssignExtractor handles the older format of separate property
// assignments: yunData.SHARE_UK = "1"; yunData.FILEINFO = [...]. Some
// pages name the list SHARE_FILE_LIST instead.
type yunDataAssignExtractor struct {
	list string
}

func (e yunDataAssignExtractor) Name() string { return "yunData." + e.list }

func (e yunDataAssignExtractor) Extract(page []byte) (ShareData, bool) {
	arr, ok := valueAfter(page, []byte("yunData."+e.list))
	if !ok {
		return ShareData{}, false
	}

	var files fileList
	if err := json.Unmarshal(arr, &files); err != nil {
		return ShareData{}, false
	}

	uk, _ := firstInt(shareUKAssign, page)
	id, _ := firstInt(shareIDAssign, page)

	return ShareData{UK: uk, ShareID: id, Files: files.shareFiles()}, true
}

// attrExtractor handles an HTML-escaped (and sometimes additionally
// URL-escaped) JSON payload in an element attribute.
type attrExtractor struct {
	name string
	attr *regexp.Regexp
}

func (e attrExtractor) Name() string { return e.name }

func (e attrExtractor) Extract(page []byte) (ShareData, bool) {
	for _, m := range e.attr.FindAllSubmatch(page, -1) {
		raw := html.UnescapeString(string(m[1]))
		if unescaped, err := url.QueryUnescape(raw); err == nil && len(raw) > 0 && raw[0] != '{' && raw[0] != '[' {
			raw = unescaped
		}

		if d, ok := decodePayload([]byte(raw)); ok && d.hasFiles() {
			return d, true
		}
	}

	return ShareData{}, false
}

var shareInfoScript = regexp.MustCompile(`(?s)<script\s+id="shareInfo"[^>]*>(.*?)</script>`)

// shareInfoExtractor handles a payload carried as the whole body of a
// <script id="shareInfo"> element.
type shareInfoExtractor struct{}

func (shareInfoExtractor) Name() string { return "shareInfo script" }

func (shareInfoExtractor) Extract(page []byte) (ShareData, bool) {
	m := shareInfoScript.FindSubmatch(page)
	if m == nil {
		return ShareData{}, false
	}

	body := m[1]

	i := bytes.IndexAny(body, "{[")
	if i < 0 {
		return ShareData{}, false
	}

	obj, ok := balanced(body, i)
	if !ok {
		return ShareData{}, false
	}

	if d, ok := decodePayload(obj); ok {
		return d, true
	}

	return decodePayload(loosenJS(obj))
}

var (
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][\w$]*)\s*:`)
	singleQuoted  = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// jsObjectExtractor handles a JavaScript object literal assigned to a
// variable: var context = {uk: '1', ...}. The literal is loosened into
// JSON before decoding.
type jsObjectExtractor struct {
	name   string
	marker []byte
}

func (e jsObjectExtractor) Name() string { return e.name }

func (e jsObjectExtractor) Extract(page []byte) (ShareData, bool) {
	obj, ok := valueAfter(page, e.marker)
	if !ok {
		return ShareData{}, false
	}

	if d, ok := decodePayload(obj); ok {
		return d, true
	}

	return decodePayload(loosenJS(obj))
}

func loosenJS(b []byte) []byte {
	b = singleQuoted.ReplaceAllFunc(b, func(m []byte) []byte {
		inner := singleQuoted.FindSubmatch(m)[1]
		inner = bytes.ReplaceAll(inner, []byte(`\'`), []byte(`'`))
		quoted, _ := json.Marshal(string(inner))

		return quoted
	})
	b = bareKey.ReplaceAll(b, []byte(`$1"$2":`))

	return trailingComma.ReplaceAll(b, []byte(`$1`))
}

var (
	looseUK       = regexp.MustCompile(`\b(?:share_)?uk["']?\s*:\s*["']?(\d+)`)
	looseShareID  = regexp.MustCompile(`\bshare_?id["']?\s*:\s*["']?(\d+)`)
	looseFsID     = regexp.MustCompile(`"fs_id"\s*:\s*"?(\d+)"?`)
	looseFilename = regexp.MustCompile(`"server_filename"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// looseFieldExtractor is the last resort: scan the page for the individual
// fields wherever they appear.
type looseFieldExtractor struct{}

func (looseFieldExtractor) Name() string { return "loose fields" }

func (looseFieldExtractor) Extract(page []byte) (ShareData, bool) {
	uk, ok1 := firstInt(looseUK, page)
	id, ok2 := firstInt(looseShareID, page)

	if !ok1 || !ok2 {
		return ShareData{}, false
	}

	ids := looseFsID.FindAllSubmatch(page, -1)
	names := looseFilename.FindAllSubmatch(page, -1)

	d := ShareData{UK: uk, ShareID: id}

	seen := make(map[int64]bool, len(ids))
	for i, m := range ids {
		fsID, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil || seen[fsID] {
			continue
		}

		seen[fsID] = true
		f := ShareFile{FsID: fsID}

		// Names pair with ids only when the counts line up.
		if len(names) == len(ids) {
			var name string
			if err := json.Unmarshal(append(append([]byte{'"'}, names[i][1]...), '"'), &name); err == nil {
				f.Filename = name
			}
		}

		d.Files = append(d.Files, f)
	}

	return d, len(d.Files) > 0
}

func firstInt(re *regexp.Regexp, page []byte) (int64, bool) {
	m := re.FindSubmatch(page)
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}

	return n, true
}

// maxValueGap bounds how far past a marker the opening bracket may be.
const maxValueGap = 16

// valueAfter finds marker in page and returns the balanced JSON object or
// array that follows it.
func valueAfter(page, marker []byte) ([]byte, bool) {
	for off := 0; off < len(page); {
		i := bytes.Index(page[off:], marker)
		if i < 0 {
			return nil, false
		}

		start := off + i + len(marker)
		limit := min(start+maxValueGap, len(page))

		for j := start; j < limit; j++ {
			if page[j] == '{' || page[j] == '[' {
				if v, ok := balanced(page, j); ok {
					return v, true
				}

				break
			}
		}

		off = start
	}

	return nil, false
}

// balanced returns page[start:end] where page[start] is an opening bracket
// and end follows its matching close. String literals in either quote style
// are skipped.
func balanced(page []byte, start int) ([]byte, bool) {
	depth := 0
	var quote byte

	for i := start; i < len(page); i++ {
		ch := page[i]

		if quote != 0 {
			switch ch {
			case '\\':
				i++
			case quote:
				quote = 0
			}

			continue
		}

		switch ch {
		case '"', '\'':
			quote = ch
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return page[start : i+1], true
			}
		}
	}

	return nil, false
}
