package bundle

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// ParseURIList parses a text/uri-list payload, skipping blank lines,
// "#"-prefixed comments, and the GNOME Files "copy"/"cut" action lines
// that sometimes precede the actual entries.
func ParseURIList(data []byte) []*url.URL {
	lines := strings.Split(string(data), "\n")
	out := make([]*url.URL, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") || l == "copy" || l == "cut" {
			continue
		}
		u, err := url.Parse(l)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

// fileURLToPath converts a file:// URL to a local path, accepting the
// "file://host/path" quirk some file managers emit for a local path that
// should have been "file:///path" (three slashes): reconstruct it as
// "/{host}{path}".
func fileURLToPath(u *url.URL) (string, bool) {
	if u.Scheme != "file" {
		return "", false
	}
	if u.Host == "" {
		return u.Path, true
	}
	return "/" + u.Host + u.Path, true
}

// CollectClipboardPaths extracts local filesystem paths from a
// text/uri-list payload.
func CollectClipboardPaths(data []byte) []string {
	urls := ParseURIList(data)
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if p, ok := fileURLToPath(u); ok {
			out = append(out, p)
		}
	}
	return out
}

// BuildURIList renders paths as a text/uri-list payload: one
// "file:///..." URI per line, LF-terminated, never forcing a trailing
// slash for directories (some file managers read a trailing slash as
// "copy contents of", not "copy the directory itself").
func BuildURIList(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
		sb.WriteString(u.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// BundleNameFor picks the archive name for a set of selected paths: the
// single item's own name, the shared parent directory's name when every
// path has the same parent (file managers sometimes represent "copy
// folder" as its immediate children), or a timestamped fallback.
func BundleNameFor(paths []string, nowMillis int64) string {
	if len(paths) == 0 {
		return fmt.Sprintf("multicliprelay-bundle-%d.tar", nowMillis)
	}
	if len(paths) == 1 {
		if n := filepath.Base(paths[0]); n != "." && n != "/" {
			return n + ".tar"
		}
		return fmt.Sprintf("multicliprelay-bundle-%d.tar", nowMillis)
	}

	parent0 := filepath.Dir(paths[0])
	sameParent := true
	for _, p := range paths {
		if filepath.Dir(p) != parent0 {
			sameParent = false
			break
		}
	}
	if sameParent {
		if n := filepath.Base(parent0); n != "." && n != "/" {
			return n + ".tar"
		}
	}
	return fmt.Sprintf("multicliprelay-bundle-%d.tar", nowMillis)
}

// NowMillis is the current wall-clock time in Unix milliseconds, used to
// name fallback bundles.
func NowMillis() int64 { return time.Now().UnixMilli() }

// commonPathPrefix returns the longest shared leading path (by component)
// across paths, or "" if they share none.
func commonPathPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		prefix = commonPathPrefix2(prefix, p)
		if prefix == "" {
			break
		}
	}
	return prefix
}

func commonPathPrefix2(a, b string) string {
	ca := splitComponents(a)
	cb := splitComponents(b)
	var out []string
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if ca[i] != cb[i] {
			break
		}
		out = append(out, ca[i])
	}
	if len(out) == 0 {
		return ""
	}
	joined := strings.Join(out, string(filepath.Separator))
	if strings.HasPrefix(a, string(filepath.Separator)) {
		joined = string(filepath.Separator) + joined
	}
	return joined
}

func splitComponents(p string) []string {
	clean := filepath.Clean(p)
	clean = strings.TrimPrefix(clean, string(filepath.Separator))
	if clean == "" {
		return nil
	}
	return strings.Split(clean, string(filepath.Separator))
}
