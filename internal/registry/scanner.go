package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// videoExtensions are the file suffixes the scanner registers as streams.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
}

// ScanVideosDir walks dir and registers a "/videos/<name>" stream for every
// video file not already registered (deduplicated by URL). The directory is
// created if missing. Returns the number of streams created.
func ScanVideosDir(repo *Repository, dir string, log *slog.Logger) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !videoExtensions[ext] {
			continue
		}

		url := "/videos/" + entry.Name()
		st, isNew, err := repo.RegisterIfAbsent(url)
		if err != nil {
			log.Error("scan register failed", slog.String("file", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		if isNew {
			created++
			log.Debug("registered video file", slog.String("stream_id", string(st.ID)), slog.String("url", url))
		}
	}
	return created, nil
}
