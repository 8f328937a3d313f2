package epub

import (
	"net/url"
	"path"
	"strings"
)

// ResolveHref normalizes an href found in markup into an archive-relative
// path. Absolute http(s) URLs keep only their path component. Data URIs and
// bare fragments are returned unchanged - they do not name archive entries
// and callers must special-case them. Everything else resolves against the
// directory of contextPath when given, else against base. The function is
// pure on purpose, it is exercised constantly and has to stay cheap to test.
func ResolveHref(href, base, contextPath string) string {
	h := strings.TrimSpace(href)
	if h == "" || strings.HasPrefix(h, "#") || strings.HasPrefix(h, "data:") {
		return href
	}

	if u, err := url.Parse(h); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return normalizePath(u.Path)
	}

	dir := resolveDir(base, contextPath)

	u, err := url.Parse(h)
	if err != nil {
		// Malformed reference, concatenate verbatim and hope for the best.
		if dir != "" {
			return normalizePath(dir + "/" + h)
		}
		return normalizePath(h)
	}

	resolved := u.Path
	if dir != "" {
		resolved = path.Join(dir, u.Path)
	} else {
		resolved = path.Clean(u.Path)
	}
	if u.Fragment != "" {
		resolved += "#" + u.Fragment
	}
	return normalizePath(resolved)
}

// SplitFragment separates an href into its path and fragment parts.
func SplitFragment(href string) (string, string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

func resolveDir(base, contextPath string) string {
	if contextPath != "" {
		if dir := path.Dir(contextPath); dir != "." {
			return dir
		}
		return ""
	}
	return strings.TrimSuffix(base, "/")
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if decoded, err := url.PathUnescape(p); err == nil {
		return decoded
	}
	return p
}
