package ytdlp

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Quality is the user's format preference for non-YouTube sources.
type Quality string

const (
	QualityBest   Quality = "best"
	QualityNormal Quality = "normal"
)

const (
	// Retry count handed to yt-dlp for YouTube downloads.
	YouTubeRetries = "10"

	// BestFormat prefers an mp4 video+m4a audio pair, then a single mp4, then anything.
	BestFormat   = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	NormalFormat = "best[ext=mp4]"
	MergeFormat  = "mp4"

	// Placeholders are expanded by yt-dlp, not by us.
	FilenameTemplate = "%(title)s.%(ext)s"
)

// Flags passed to yt-dlp.
const (
	FlagNewline            = "--newline"
	FlagNoCheckCertificate = "--no-check-certificate"
	FlagFFmpegLocation     = "--ffmpeg-location"
	FlagRetries            = "--retries"
	FlagFormat             = "-f"
	FlagMergeOutputFormat  = "--merge-output-format"
	FlagOutput             = "-o"
	FlagNoPlaylist         = "--no-playlist"
)

// Request is everything the argument list depends on besides tool paths.
type Request struct {
	URL             string
	Quality         Quality
	IncludePlaylist bool
	DownloadDir     string
}

// Tools holds the provisioned executable paths.
type Tools struct {
	Downloader string
	Muxer      string
}

// OutputTemplate returns "<dir>/%(title)s.%(ext)s".
func OutputTemplate(dir string) string {
	if dir == "" {
		return FilenameTemplate
	}
	return strings.TrimRight(dir, "/") + "/" + FilenameTemplate
}

// BuildArgs returns the downloader argument list for req. It is pure: the
// same inputs always yield the same slice.
func BuildArgs(req Request, tools Tools) []string {
	args := []string{
		req.URL,
		FlagNewline,
		FlagNoCheckCertificate,
		FlagFFmpegLocation, tools.Muxer,
	}

	switch Classify(req.URL) {
	case ProfileYouTube:
		args = append(args, FlagRetries, YouTubeRetries)
	case ProfileGeneric:
		args = append(args, formatArgs(req.Quality)...)
	}

	args = append(args, FlagOutput, OutputTemplate(req.DownloadDir))
	if !req.IncludePlaylist {
		args = append(args, FlagNoPlaylist)
	}
	return args
}

func formatArgs(q Quality) []string {
	switch q {
	case QualityBest:
		return []string{FlagFormat, BestFormat, FlagMergeOutputFormat, MergeFormat}
	default:
		return []string{FlagFormat, NormalFormat}
	}
}

// ParseQuality maps a persisted value onto a Quality. Anything unrecognized is Normal.
func ParseQuality(s string) Quality {
	if strings.EqualFold(strings.TrimSpace(s), string(QualityBest)) {
		return QualityBest
	}
	return QualityNormal
}

// CommandLine renders the invocation as a shell-quoted string for logs.
func CommandLine(path string, args []string) string {
	return shellescape.QuoteCommand(append([]string{path}, args...))
}
