package batch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const maxFileNameLength = 80

var (
	invalidFileChars = regexp.MustCompile(`[\\/:*?"<>|#%]+`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
	dashRuns         = regexp.MustCompile(`-{2,}`)
)

// DeriveFileName turns a page title into an archive-safe Markdown file
// name, optionally prefixed to preserve reading order.
func DeriveFileName(title, orderPrefix string) string {
	base := sanitizeName(title)
	if base == "" {
		base = "page"
	}
	if orderPrefix != "" {
		base = orderPrefix + "-" + base
	}
	return base + ".md"
}

// DeriveFolderName builds the archive folder name from the project's
// starting address.
func DeriveFolderName(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		name := sanitizeName(address)
		if name == "" {
			return "docpack-export"
		}
		return name
	}

	name := strings.ReplaceAll(u.Host, ".", "-")
	if path := strings.Trim(u.Path, "/"); path != "" {
		name += "-" + strings.ReplaceAll(path, "/", "-")
	}
	return sanitizeName(name)
}

// sanitizeName lowercases, strips characters that are unsafe in archive
// entries, and collapses separators.
func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = invalidFileChars.ReplaceAllString(s, "-")
	s = whitespaceRuns.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")

	if len(s) > maxFileNameLength {
		s = strings.Trim(s[:maxFileNameLength], "-.")
	}
	return s
}

// numberedFileName appends a collision counter before the extension.
func numberedFileName(name string, n int) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return fmt.Sprintf("%s-%d%s", name[:idx], n, name[idx:])
	}
	return fmt.Sprintf("%s-%d", name, n)
}
