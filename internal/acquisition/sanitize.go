package acquisition

import (
	"strings"
	"unicode/utf8"
)

const (
	maxFilenameBytes = 200
	maxTitleRunes    = 100
)

// SanitizeURL cleans a URL value taken from a lookup response. Values that
// hold several comma-separated URLs yield the first token starting with
// "http", or the first token when none does. Blank input returns ("", false).
// Anything else passes through trimmed, even if it is not a valid URL.
func SanitizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, ",") {
		return raw, true
	}

	var first string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if strings.HasPrefix(token, "http") {
			return token, true
		}
		if first == "" {
			first = token
		}
	}
	return first, first != ""
}

// SanitizeFilename makes name safe on common filesystems: each of <>:"/\|?*
// becomes an underscore, the result is capped at 200 bytes without splitting
// a UTF-8 sequence, and leading or trailing dots and spaces are removed.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)

	return strings.Trim(truncateBytes(name, maxFilenameBytes), ". ")
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PaperFilename is the archive name for a paper: "{year}_{title}.pdf" with
// the title cut to its first 100 characters, then sanitized. The .pdf
// extension survives the length cap.
func PaperFilename(year, title string) string {
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	name := SanitizeFilename(year + "_" + title + ".pdf")
	if strings.HasSuffix(name, ".pdf") {
		return name
	}
	stem := strings.Trim(truncateBytes(SanitizeFilename(year+"_"+title), maxFilenameBytes-len(".pdf")), ". ")
	if stem == "" {
		stem = "paper"
	}
	return stem + ".pdf"
}
