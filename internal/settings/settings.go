// Package settings persists the user's download preferences as a small JSON
// file in the per-user config directory. Loading never fails: anything
// missing or malformed falls back to defaults.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"thirdcoast.systems/zdownload/pkg/ytdlp"
)

// FileName is the settings file name inside the config directory.
const FileName = "zdownload_settings.json"

const (
	Yes = "yes"
	No  = "no"
)

// Keys accepted by Set.
const (
	KeyQuality       = "quality"
	KeyDownVideoList = "down_video_list"
	KeyDownloadPath  = "download_path"
)

var validate = validator.New()

// Settings is the persisted record. Field names match the on-disk format.
type Settings struct {
	Quality       string `json:"quality" validate:"oneof=best normal"`
	DownVideoList string `json:"down_video_list" validate:"oneof=yes no"`
	DownloadPath  string `json:"download_path"`
}

// Defaults returns the settings used when nothing valid is persisted.
func Defaults() Settings {
	return Settings{
		Quality:       string(ytdlp.QualityNormal),
		DownVideoList: No,
		DownloadPath:  DefaultDownloadDir(),
	}
}

// DefaultDownloadDir returns the platform download directory, or "" when the
// home directory cannot be determined.
func DefaultDownloadDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DOWNLOAD_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Downloads")
}

// DefaultPath returns <user config dir>/zdownload_settings.json, falling back
// to the working directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, err = os.Getwd()
		if err != nil {
			dir = "."
		}
	}
	return filepath.Join(dir, FileName)
}

// QualityPreset returns the typed quality.
func (s Settings) QualityPreset() ytdlp.Quality {
	return ytdlp.ParseQuality(s.Quality)
}

// IncludePlaylist reports whether whole playlists should be downloaded.
func (s Settings) IncludePlaylist() bool {
	return s.DownVideoList == Yes
}

// Request snapshots the settings into a downloader request for url.
func (s Settings) Request(url string) ytdlp.Request {
	return ytdlp.Request{
		URL:             url,
		Quality:         s.QualityPreset(),
		IncludePlaylist: s.IncludePlaylist(),
		DownloadDir:     s.DownloadPath,
	}
}

// Set updates one field by its persisted key.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeyQuality:
		value = strings.ToLower(value)
		if err := validate.Var(value, "oneof=best normal"); err != nil {
			return fmt.Errorf("settings: quality must be best or normal, got %q", value)
		}
		s.Quality = value
	case KeyDownVideoList:
		value = strings.ToLower(value)
		if err := validate.Var(value, "oneof=yes no"); err != nil {
			return fmt.Errorf("settings: down_video_list must be yes or no, got %q", value)
		}
		s.DownVideoList = value
	case KeyDownloadPath:
		s.DownloadPath = value
	default:
		return fmt.Errorf("settings: unknown key %q", key)
	}
	return nil
}

// Store reads and writes the settings file.
type Store struct {
	Path string
}

// NewStore returns a store backed by path, or DefaultPath() when empty.
func NewStore(path string) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	return &Store{Path: path}
}

// Load returns the persisted settings. Missing file or malformed JSON yields
// Defaults(); individual invalid fields fall back to their default.
func (s *Store) Load() Settings {
	def := Defaults()

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("settings: read failed, using defaults", "path", s.Path, "error", err)
		}
		return def
	}

	// Fields absent from the file keep their defaults.
	loaded := def
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Debug("settings: malformed file, using defaults", "path", s.Path, "error", err)
		return def
	}

	if err := validate.Struct(loaded); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.StructField() {
				case "Quality":
					loaded.Quality = def.Quality
				case "DownVideoList":
					loaded.DownVideoList = def.DownVideoList
				}
			}
		} else {
			return def
		}
	}
	return loaded
}

// Save validates and atomically writes settings. The caller decides whether
// a failure matters; settings are convenience state.
func (s *Store) Save(st Settings) error {
	if err := validate.Struct(st); err != nil {
		return fmt.Errorf("settings: validate: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".zdownload-settings-*.json")
	if err != nil {
		return fmt.Errorf("settings: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("settings: replace %s: %w", s.Path, err)
	}
	return nil
}
