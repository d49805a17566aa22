package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindByName(t *testing.T) {
	for name, want := range map[string]string{"hls": "hls", "DASH": "dash", " push ": "push"} {
		k, err := KindByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, k.Name())
	}

	_, err := KindByName("rtmp")
	assert.ErrorContains(t, err, `unknown stream kind "rtmp"`)
}

func TestCanAccept(t *testing.T) {
	tests := []struct {
		path            string
		hls, dash, push bool
	}{
		{path: "hls/index.m3u8", hls: true},
		{path: "hls/segment_00001.ts", hls: true},
		{path: "hls/init.mp4", hls: true},
		{path: "dash/manifest.mpd", dash: true},
		{path: "dash/chunk-stream0-00001.m4s", dash: true},
		{path: "dash/init-stream1.m4a", dash: true},
		{path: "push/index.m3u8", push: true},
		{path: "push/segment_00002.ts", push: true},
		{path: "hls/"},
		{path: "hls"},
		{path: "hls/../config.toml"},
		{path: "hls/sub/index.m3u8"},
		{path: "hls/.upload-123.m3u8"},
		{path: "hls/index.txt"},
		{path: "dash/index.m3u8"},
		{path: "other/index.m3u8"},
		{path: "hls\\index.m3u8"},
		{path: ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.hls, HLS{}.CanAccept(tc.path), "hls")
			assert.Equal(t, tc.dash, DASH{}.CanAccept(tc.path), "dash")
			assert.Equal(t, tc.push, Push{}.CanAccept(tc.path), "push")
		})
	}
}

func TestOnlyPushCanPost(t *testing.T) {
	assert.False(t, HLS{}.CanPost("hls/index.m3u8"))
	assert.False(t, DASH{}.CanPost("dash/manifest.mpd"))
	assert.True(t, Push{}.CanPost("push/index.m3u8"))
	assert.False(t, Push{}.CanPost("push/../index.m3u8"))
}

func TestHLSCheckStarted(t *testing.T) {
	dir := t.TempDir()
	playlist := filepath.Join(dir, HLSPlaylist)

	assert.False(t, HLS{}.CheckStarted(dir), "no playlist")

	require.NoError(t, os.WriteFile(playlist, []byte("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n\n"), 0o644))
	assert.False(t, HLS{}.CheckStarted(dir), "playlist without segments")

	require.NoError(t, os.WriteFile(playlist, []byte("#EXTM3U\n#EXTINF:2.000000,\nsegment_00000.ts\n"), 0o644))
	assert.True(t, HLS{}.CheckStarted(dir))
	assert.True(t, Push{}.CheckStarted(dir))
}

func TestDASHCheckStarted(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, DASHManifest)

	assert.False(t, DASH{}.CheckStarted(dir))

	require.NoError(t, os.WriteFile(manifest, nil, 0o644))
	assert.False(t, DASH{}.CheckStarted(dir), "empty manifest")

	require.NoError(t, os.WriteFile(manifest, []byte(`<?xml version="1.0"?><MPD/>`), 0o644))
	assert.True(t, DASH{}.CheckStarted(dir))
}

func newKindStream(t *testing.T, kind Kind, startOnLoad bool) (*Stream, *fakeProcess) {
	t.Helper()
	dir := t.TempDir()
	proc := &fakeProcess{}
	proc.onStart = func() {
		_ = os.WriteFile(filepath.Join(dir, HLSPlaylist), []byte("#EXTM3U\n#EXTINF:2.0,\nsegment_00000.ts\n"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "segment_00000.ts"), []byte("tsdata"), 0o644)
	}
	s := New(Options{
		Camera:      "front",
		Dir:         dir,
		Kind:        kind,
		Process:     proc,
		StartOnLoad: startOnLoad,
		Poller:      noWait,
		Logger:      discardLogger(),
	})
	return s, proc
}

func TestHLSGetStartsOnDemand(t *testing.T) {
	s, proc := newKindStream(t, HLS{}, false)

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/cams/front/hls/index.m3u8", nil), "hls/index.m3u8")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-mpegURL", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "segment_00000.ts")
	assert.True(t, s.Running())
	// The start counts as one hit and the served file as another.
	assert.EqualValues(t, 2, s.hits.Load())

	rec = httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/cams/front/hls/segment_00000.ts", nil), "hls/segment_00000.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tsdata", rec.Body.String())
	assert.Equal(t, "video/MP2T", rec.Header().Get("Content-Type"))

	starts, _ := proc.counts()
	assert.Equal(t, 1, starts)
	assert.EqualValues(t, 3, s.hits.Load())
}

func TestHLSGetMissingSegment(t *testing.T) {
	s, _ := newKindStream(t, HLS{}, false)

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "hls/segment_09999.ts")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.EqualValues(t, 1, s.hits.Load(), "only the start is counted")
}

func TestHLSGetRejectsForeignPath(t *testing.T) {
	s, proc := newKindStream(t, HLS{}, false)

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "hls/../../etc/passwd")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	starts, _ := proc.counts()
	assert.Zero(t, starts)
}

func TestGetFailedStartAnswersNotFound(t *testing.T) {
	s, proc := newKindStream(t, HLS{}, false)
	proc.onStart = nil

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "hls/index.m3u8")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, s.Running())
}

func TestStartOnLoadGetSkipsStartWhenRunning(t *testing.T) {
	s, proc := newKindStream(t, HLS{}, true)
	require.NoError(t, s.ServerReady(context.Background()))

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "hls/index.m3u8")

	assert.Equal(t, http.StatusOK, rec.Code)
	starts, _ := proc.counts()
	assert.Equal(t, 1, starts)
}

func TestDASHGet(t *testing.T) {
	s, proc := newKindStream(t, DASH{}, false)
	proc.onStart = func() {
		_ = os.WriteFile(filepath.Join(s.Dir, DASHManifest), []byte("<MPD/>"), 0o644)
	}

	rec := httptest.NewRecorder()
	s.ServeGet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "dash/manifest.mpd")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dash+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<MPD/>", rec.Body.String())
}

func TestPushPostStoresUpload(t *testing.T) {
	s, proc := newKindStream(t, Push{}, false)
	proc.onStart = nil

	body := "#EXTM3U\n#EXTINF:2.0,\nsegment_00003.ts\n"
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/cams/front/push/index.m3u8", strings.NewReader(body))
	s.ServePost(rec, req, "push/index.m3u8")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	got, err := os.ReadFile(filepath.Join(s.Dir, HLSPlaylist))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.True(t, Push{}.CheckStarted(s.Dir))
	assert.Zero(t, s.hits.Load())

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPushPostRejectsForeignPath(t *testing.T) {
	s, _ := newKindStream(t, Push{}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	s.ServePost(rec, req, "push/../escape.ts")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err := os.Stat(filepath.Join(filepath.Dir(s.Dir), "escape.ts"))
	assert.True(t, os.IsNotExist(err))
}
