package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alexzorin/camorigin/internal/stream"
)

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})

	// Players.
	r.Get("/cams/{camera}/*", a.handleCameraGet)

	r.Group(func(r chi.Router) {
		r.Use(a.requireSecret)

		// Encoders pushing playlists and segments.
		r.Post("/cams/{camera}/*", a.handleCameraPost)
		r.Put("/cams/{camera}/*", a.handleCameraPost)

		// Stream control.
		r.Post("/stream/{camera}/{kind}/enable", a.handleEnableStream)
		r.Post("/stream/{camera}/{kind}/disable", a.handleDisableStream)
		r.Get("/stream/{camera}/{kind}/status", a.handleGetStreamStatus)
		r.Get("/streams", a.handleListStreams)
	})

	return r
}

// Authentication middleware.
func (a *app) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+a.conf.Secret {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleCameraGet hands the request to the first of the camera's streams that
// claims the path.
func (a *app) handleCameraGet(w http.ResponseWriter, r *http.Request) {
	pathInfo := chi.URLParam(r, "*")
	for _, s := range a.cameras[chi.URLParam(r, "camera")] {
		if s.CanAccept(pathInfo) {
			s.ServeGet(w, r, pathInfo)
			return
		}
	}
	http.NotFound(w, r)
}

func (a *app) handleCameraPost(w http.ResponseWriter, r *http.Request) {
	pathInfo := chi.URLParam(r, "*")
	for _, s := range a.cameras[chi.URLParam(r, "camera")] {
		if s.CanPost(pathInfo) {
			s.ServePost(w, r, pathInfo)
			return
		}
	}
	http.NotFound(w, r)
}

func (a *app) findStream(r *http.Request) (*stream.Stream, string) {
	camera, kind := chi.URLParam(r, "camera"), chi.URLParam(r, "kind")
	id := camera + "/" + kind
	for _, s := range a.cameras[camera] {
		if s.Kind() == kind {
			return s, id
		}
	}
	return nil, id
}

func (a *app) handleEnableStream(w http.ResponseWriter, r *http.Request) {
	s, streamID := a.findStream(r)
	if s == nil {
		http.Error(w, "No such stream", http.StatusNotFound)
		return
	}
	if s.Running() {
		http.Error(w, "Stream already enabled", http.StatusBadRequest)
		return
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()
		if err := s.EnsureStarted(a.ctx); err != nil {
			a.logger.Error("Failed to start stream", "stream", streamID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "OK. Starting the %s stream", streamID)
}

func (a *app) handleDisableStream(w http.ResponseWriter, r *http.Request) {
	s, streamID := a.findStream(r)
	if s == nil {
		http.Error(w, "No such stream", http.StatusNotFound)
		return
	}
	if !s.Running() {
		http.Error(w, "Stream already disabled", http.StatusBadRequest)
		return
	}

	s.Stop()

	fmt.Fprintf(w, "OK. Stopped the %s stream", streamID)
}

func (a *app) handleGetStreamStatus(w http.ResponseWriter, r *http.Request) {
	s, streamID := a.findStream(r)
	if s == nil {
		http.Error(w, "No such stream", http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, "Stream %s is %s", streamID, streamState(s))
}

func (a *app) handleListStreams(w http.ResponseWriter, r *http.Request) {
	for _, name := range a.conf.cameraNames() {
		for _, s := range a.cameras[name] {
			line := fmt.Sprintf("Stream %s/%s is %s", name, s.Kind(), streamState(s))
			if s.StartOnLoad() {
				line += " (start on load)"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func streamState(s *stream.Stream) string {
	if s.Running() {
		return "running"
	}
	return "stopped"
}

// serverReady starts the streams that are served from boot. Each start runs
// in the background so one slow camera does not hold up the others.
func (a *app) serverReady() {
	for _, name := range a.conf.cameraNames() {
		for _, s := range a.cameras[name] {
			if !s.StartOnLoad() {
				continue
			}
			a.wg.Add(1)
			go func(s *stream.Stream) {
				defer a.wg.Done()
				if err := s.ServerReady(a.ctx); err != nil {
					a.logger.Warn("Stream not ready at startup", "camera", s.Camera,
						"kind", s.Kind(), "error", err)
				}
			}(s)
		}
	}
}
