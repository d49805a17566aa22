package stream

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Kind is what differs between stream formats: how readiness shows up on
// disk and which request paths belong to the stream.
type Kind interface {
	Name() string
	// CheckStarted reports whether the encoder has written enough into dir
	// for a player to begin.
	CheckStarted(dir string) bool
	CanAccept(pathInfo string) bool
	CanPost(pathInfo string) bool
	Get(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string)
	Post(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string)
}

// Unsupported is the base behaviour: nothing is ever ready or routed, GET
// answers 404 and POST is ignored. Kinds embed it and override what they
// support.
type Unsupported struct{}

func (Unsupported) Name() string                   { return "unsupported" }
func (Unsupported) CheckStarted(dir string) bool   { return false }
func (Unsupported) CanAccept(pathInfo string) bool { return false }
func (Unsupported) CanPost(pathInfo string) bool   { return false }

func (Unsupported) Get(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {
	http.NotFound(w, r)
}

func (Unsupported) Post(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {}

// KindByName returns the kind configured as name.
func KindByName(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hls":
		return HLS{}, nil
	case "dash":
		return DASH{}, nil
	case "push":
		return Push{}, nil
	}
	return nil, fmt.Errorf("unknown stream kind %q", name)
}

// fileIn returns the file name when pathInfo is prefix/<name> with one of
// exts. Anything nested, hidden or escaping the directory is rejected.
func fileIn(pathInfo, prefix string, exts []string) (string, bool) {
	name, ok := strings.CutPrefix(pathInfo, prefix+"/")
	if !ok || name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	if !slices.Contains(exts, strings.TrimPrefix(path.Ext(name), ".")) {
		return "", false
	}
	return name, true
}

// serveFile is the common GET path: start on demand, send, count the hit.
func (s *Stream) serveFile(w http.ResponseWriter, name string) {
	if !s.startOnLoad || !s.Running() {
		// A failed start is logged by EnsureStarted; the player gets the 404
		// from SendFile and may retry.
		_ = s.EnsureStarted(s.ctx)
	}
	file := filepath.Join(s.Dir, name)
	err := SendFile(w, file, "")
	switch {
	case err == nil:
		s.RecordHit()
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("File not found", "file", file)
	default:
		s.logger.Warn("Failed to send file", "file", file, "error", err)
	}
}
