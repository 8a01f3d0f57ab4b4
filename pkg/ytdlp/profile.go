package ytdlp

import (
	"net/url"
	"strings"
)

// Profile selects which argument set the downloader is invoked with.
type Profile int

const (
	ProfileGeneric Profile = iota
	ProfileYouTube
)

func (p Profile) String() string {
	switch p {
	case ProfileYouTube:
		return "youtube"
	case ProfileGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Hosts served by the YouTube extractor. Keep this conservative.
var youtubeHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
	"www.youtu.be":      {},
}

// Classify returns the profile for a submitted URL. It never touches the
// network and accepts scheme-less input such as "youtu.be/abc".
func Classify(rawURL string) Profile {
	s := strings.ToLower(strings.TrimSpace(rawURL))
	if s == "" {
		return ProfileGeneric
	}

	if host := hostOf(s); host != "" {
		if _, ok := youtubeHosts[host]; ok {
			return ProfileYouTube
		}
	}

	// Fallback: substring match on the raw text.
	if strings.Contains(s, "youtube.com") || strings.Contains(s, "youtu.be") {
		return ProfileYouTube
	}
	return ProfileGeneric
}

func hostOf(s string) string {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}
