package stream

import (
	"bufio"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// HLSPlaylist is the media playlist the encoder writes for hls and push kinds.
const HLSPlaylist = "index.m3u8"

var hlsExts = []string{"m3u8", "ts", "m4s", "mp4"}

// HLS serves an HTTP Live Streaming playlist and segments the encoder writes
// to disk, under hls/.
type HLS struct{ Unsupported }

func (HLS) Name() string { return "hls" }

func (HLS) CheckStarted(dir string) bool {
	return playlistHasSegment(filepath.Join(dir, HLSPlaylist))
}

func (HLS) CanAccept(pathInfo string) bool {
	_, ok := fileIn(pathInfo, "hls", hlsExts)
	return ok
}

func (HLS) Get(s *Stream, w http.ResponseWriter, r *http.Request, pathInfo string) {
	name, ok := fileIn(pathInfo, "hls", hlsExts)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, name)
}

// playlistHasSegment reports whether the playlist at file lists at least one
// segment URI.
func playlistHasSegment(file string) bool {
	f, err := os.Open(file)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			return true
		}
	}
	return false
}
