package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// maxUpload bounds a single pushed playlist or segment.
const maxUpload = 64 << 20

// Push is HLS where the encoder uploads the playlist and segments over HTTP
// (PUT or POST to push/<file>) instead of writing them to disk itself.
type Push struct{ Unsupported }

func (Push) Name() string { return "push" }

func (Push) CheckStarted(dir string) bool {
	return playlistHasSegment(filepath.Join(dir, HLSPlaylist))
}

func (Push) CanAccept(pathInfo string) bool {
	_, ok := fileIn(pathInfo, "push", hlsExts)
	return ok
}

func (Push) CanPost(pathInfo string) bool {
	_, ok := fileIn(pathInfo, "push", hlsExts)
	return ok
}

func (Push) Get(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {
	name, ok := fileIn(pathInfo, "push", hlsExts)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, name)
}

// Post stores an upload. Uploads come from the encoder, not from viewers, so
// they do not count as hits.
func (Push) Post(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {
	name, ok := fileIn(pathInfo, "push", hlsExts)
	if !ok {
		http.NotFound(w, r)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxUpload)
	if err := writeAtomic(filepath.Join(s.Dir, name), body); err != nil {
		s.logger.Warn("Failed to store upload", "file", name, "error", err)
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAtomic replaces file with the contents of r so that readers see either
// the old file or the complete new one.
func writeAtomic(file string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), file)
}
