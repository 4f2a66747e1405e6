package pan

import (
	"path"
	"time"
)

// FileEntry is one item in a directory listing, either of the account's own
// storage or of a share.
type FileEntry struct {
	FsID    int64
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	MD5     string
}

// ShareFile is a file or folder exposed by a verified share.
type ShareFile struct {
	FsID     int64
	Filename string
	Path     string
	Size     int64
	ModTime  time.Time
	IsDir    bool
}

// ShareReference identifies a verified share and the files it exposes. Only
// Verify constructs a verified reference.
type ShareReference struct {
	ShareID  string // surl, as returned by NormalizeShareID
	Password string
	UK       int64 // share owner id
	ID       int64 // numeric share id
	Files    []ShareFile

	verified bool
}

// Verified reports whether the reference came from a successful Verify.
func (r *ShareReference) Verified() bool {
	return r != nil && r.verified
}

// FileIDs returns the fs ids of the share's top-level files.
func (r *ShareReference) FileIDs() []int64 {
	if !r.Verified() {
		return nil
	}

	ids := make([]int64, 0, len(r.Files))
	for i := range r.Files {
		ids = append(ids, r.Files[i].FsID)
	}

	return ids
}

// VerifyStatus is the outcome of a share verification that did not fail.
type VerifyStatus int

const (
	// VerifyResolved means Ref is populated.
	VerifyResolved VerifyStatus = iota
	// VerifyNeedsPassword means the share is protected and no extraction
	// code was supplied.
	VerifyNeedsPassword
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyResolved:
		return "resolved"
	case VerifyNeedsPassword:
		return "needs-password"
	default:
		return "unknown"
	}
}

// VerifyResult is returned by Verify.
type VerifyResult struct {
	Status VerifyStatus
	Ref    *ShareReference
}

// DuplicatePolicy controls what the provider does when a transferred file
// already exists at the destination.
type DuplicatePolicy string

const (
	DuplicateFail       DuplicatePolicy = "fail"
	DuplicateOverwrite  DuplicatePolicy = "overwrite"
	DuplicateRenameCopy DuplicatePolicy = "newcopy"
)

// ParseDuplicatePolicy accepts the wire values plus the spelled-out
// "rename-copy" alias.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, bool) {
	switch s {
	case "fail":
		return DuplicateFail, true
	case "overwrite":
		return DuplicateOverwrite, true
	case "newcopy", "rename-copy", "rename":
		return DuplicateRenameCopy, true
	default:
		return "", false
	}
}

// TransferredItem maps a source path in the share to its new location.
type TransferredItem struct {
	From   string
	To     string
	FsID   int64
	ToFsID int64
}

// TransferResult is the outcome of a successful transfer call.
type TransferResult struct {
	Message string
	TaskID  int64
	Items   []TransferredItem
	// Missing lists requested fs ids the provider did not report as
	// transferred. Non-empty means partial success.
	Missing []int64
}

// SortOrder selects the listing sort key.
type SortOrder string

const (
	OrderName SortOrder = "name"
	OrderTime SortOrder = "time"
	OrderSize SortOrder = "size"
)

// DefaultPageSize is the page size used when ListOptions.PageSize is zero.
const DefaultPageSize = 100

// ListOptions parameterizes ListOwn and WalkOwn. Page is 1-based.
type ListOptions struct {
	Dir      string
	Page     int
	PageSize int
	Order    SortOrder
	Desc     bool
}

func (o ListOptions) withDefaults() ListOptions {
	if o.Dir == "" {
		o.Dir = "/"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}

	if o.Order == "" {
		o.Order = OrderName
	}

	return o
}

// rawFile is the listing entry shape shared by /api/list, /share/list and
// the embedded share payloads.
type rawFile struct {
	FsID           flexInt `json:"fs_id"`
	ServerFilename string  `json:"server_filename"`
	Path           string  `json:"path"`
	Size           flexInt `json:"size"`
	IsDir          flexInt `json:"isdir"`
	ServerMtime    flexInt `json:"server_mtime"`
	MD5            string  `json:"md5"`
}

func (f rawFile) entry() FileEntry {
	name := f.ServerFilename
	if name == "" && f.Path != "" {
		name = path.Base(f.Path)
	}

	e := FileEntry{
		FsID:  int64(f.FsID),
		Name:  name,
		Path:  f.Path,
		Size:  max(int64(f.Size), 0),
		IsDir: f.IsDir != 0,
		MD5:   f.MD5,
	}

	if f.ServerMtime > 0 {
		e.ModTime = time.Unix(int64(f.ServerMtime), 0)
	}

	return e
}

func (f rawFile) shareFile() ShareFile {
	e := f.entry()

	return ShareFile{
		FsID:     e.FsID,
		Filename: e.Name,
		Path:     e.Path,
		Size:     e.Size,
		ModTime:  e.ModTime,
		IsDir:    e.IsDir,
	}
}
