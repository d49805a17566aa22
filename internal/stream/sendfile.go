package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
)

// Players depend on these exact strings.
var mimeTypes = map[string]string{
	"mpd":  "application/dash+xml",
	"mp4":  "video/mp4",
	"m4v":  "video",
	"m4s":  "video/iso.segment",
	"m4a":  "audio/mp4",
	"m3u8": "application/x-mpegURL",
	"ts":   "video/MP2T",
}

// Mime returns the content type for a file name by its extension.
func Mime(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// SendFile writes file to w with headers that keep browsers and proxies from
// caching it, since manifests and segments are rewritten in place. An empty
// contentType is resolved with Mime. A missing file gets a bare 404 and an
// error wrapping fs.ErrNotExist.
func SendFile(w http.ResponseWriter, file, contentType string) error {
	if contentType == "" {
		contentType = Mime(file)
	}

	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			http.Error(w, "Failed to open file", http.StatusInternalServerError)
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to open file", http.StatusInternalServerError)
		return err
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return fmt.Errorf("%s is a directory: %w", file, fs.ErrNotExist)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	// The encoder may still be appending; never send more than was announced.
	if _, err := io.CopyN(w, f, info.Size()); err != nil {
		return fmt.Errorf("send %s: %w", file, err)
	}
	return nil
}
