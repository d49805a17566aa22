package stream

import (
	"net/http"
	"os"
	"path/filepath"
)

// DASHManifest is the MPD the encoder writes for the dash kind.
const DASHManifest = "manifest.mpd"

var dashExts = []string{"mpd", "m4s", "mp4", "m4a", "m4v"}

// DASH serves an MPEG-DASH manifest and segments under dash/.
type DASH struct{ Unsupported }

func (DASH) Name() string { return "dash" }

func (DASH) CheckStarted(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, DASHManifest))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func (DASH) CanAccept(pathInfo string) bool {
	_, ok := fileIn(pathInfo, "dash", dashExts)
	return ok
}

func (DASH) Get(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {
	name, ok := fileIn(pathInfo, "dash", dashExts)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, name)
}
