package fetch

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SafeName returns a local file name for a remote one: NFC-normalized, with
// path separators and control characters replaced. Remote names can arrive
// decomposed (NFD) depending on the uploader's platform, and the same file
// must always map to the same local path for resume to find it.
func SafeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))

	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, name)

	if name == "" || name == "." || name == ".." {
		return "_"
	}

	return name
}

// LocalPath maps a remote path under remoteRoot into dir, normalizing each
// segment with SafeName. Paths outside remoteRoot keep only their base name.
func LocalPath(dir, remoteRoot, remotePath string) string {
	rel := path.Base(remotePath)

	root := strings.TrimSuffix(path.Clean("/"+remoteRoot), "/")
	if clean := path.Clean("/" + remotePath); strings.HasPrefix(clean, root+"/") {
		rel = strings.TrimPrefix(clean, root+"/")
	}

	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = SafeName(p)
	}

	return filepath.Join(append([]string{dir}, parts...)...)
}
