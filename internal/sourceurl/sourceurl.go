// Package sourceurl pulls a download URL out of pasted free text and names
// the site it belongs to.
package sourceurl

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern matches, in order of preference: http(s) and ftp URLs, bare
// www. hosts, and scheme-less "domain.tld/path" text.
var urlPattern = regexp.MustCompile(`(?i)\b(` +
	`https?://[^\s<>"]+` +
	`|ftp://[^\s<>"]+` +
	`|www\.[^\s<>"]+` +
	`|[a-z0-9.-]+\.[a-z]{2,}/[^\s<>"]*` +
	`)`)

// Extract returns the first URL-shaped substring of text.
func Extract(text string) (string, bool) {
	m := urlPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// Well-known host aliases. Key: input host. Value: canonical domain.
var canonicalDomainByHost = map[string]string{
	"youtube.com":       "youtube.com",
	"www.youtube.com":   "youtube.com",
	"m.youtube.com":     "youtube.com",
	"music.youtube.com": "youtube.com",
	"youtu.be":          "youtube.com",

	"bilibili.com":     "bilibili.com",
	"www.bilibili.com": "bilibili.com",
	"m.bilibili.com":   "bilibili.com",
	"b23.tv":           "bilibili.com",

	"x.com":              "x.com",
	"www.x.com":          "x.com",
	"twitter.com":        "x.com",
	"www.twitter.com":    "x.com",
	"mobile.twitter.com": "x.com",

	"twitch.tv":     "twitch.tv",
	"www.twitch.tv": "twitch.tv",
	"m.twitch.tv":   "twitch.tv",
}

// CanonicalDomain returns the site a URL belongs to ("youtu.be/x" ->
// "youtube.com"), or the bare host for unknown sites. Scheme-less input is
// accepted. Returns "" when no host can be found.
func CanonicalDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	h := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if c, ok := canonicalDomainByHost[h]; ok {
		return c
	}
	return h
}
