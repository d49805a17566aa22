// Package stream supervises encoder-backed adaptive streams: it starts the
// encoder on first request, waits for usable output, serves the files it
// writes and shuts it down again once nobody has asked for data in a while.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// idleTicks is the number of keepalive ticks a running stream gets before
// its hit count is judged.
const idleTicks = 2

// ErrClosed is returned when starting a stream after Cleanup.
var ErrClosed = errors.New("stream has been cleaned up")

// Process is the encoder owned by a Stream. Nothing else may start or stop it.
type Process interface {
	IsRunning() bool
	Start() error
	Stop()
	Cleanup()
	// Poke is called on every keepalive tick for liveness bookkeeping.
	Poke()
}

// Options configures a Stream.
type Options struct {
	Camera      string
	Dir         string // Where the encoder writes manifests and segments.
	Kind        Kind
	Process     Process
	StartOnLoad bool
	Poller      Poller
	Logger      *slog.Logger

	// Context bounds readiness polls started by requests. It is normally the
	// process-wide shutdown context, not the request's.
	Context context.Context
}

// Stream is one (camera, kind) pair and the encoder behind it.
type Stream struct {
	Camera string
	Dir    string

	kind        Kind
	process     Process
	poller      Poller
	startOnLoad bool
	logger      *slog.Logger
	ctx         context.Context

	mu      sync.Mutex // Covers EnsureStarted, Stop, Cleanup and Tick.
	idle    int        // Protected by mu.
	closed  bool       // Protected by mu.
	running atomic.Bool
	hits    atomic.Int64
}

func New(opts Options) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	kind := opts.Kind
	if kind == nil {
		kind = Unsupported{}
	}
	return &Stream{
		Camera:      opts.Camera,
		Dir:         opts.Dir,
		kind:        kind,
		process:     opts.Process,
		poller:      opts.Poller,
		startOnLoad: opts.StartOnLoad,
		logger:      logger.With("camera", opts.Camera, "kind", kind.Name()),
		ctx:         ctx,
		idle:        idleTicks,
	}
}

// Kind returns the name of the stream kind, e.g. "hls".
func (s *Stream) Kind() string { return s.kind.Name() }

// StartOnLoad reports whether the stream is started eagerly and exempt from
// idle shutdown.
func (s *Stream) StartOnLoad() bool { return s.startOnLoad }

// Running reports whether readiness has been confirmed and the stream has
// not been stopped since. It never blocks on an in-flight start.
func (s *Stream) Running() bool { return s.running.Load() }

// EnsureStarted starts the encoder unless the stream is already running and
// blocks until its output is usable or the poller gives up. Concurrent callers
// queue behind the first one; only one encoder is ever started.
func (s *Stream) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running.Load() && !s.process.IsRunning() {
		s.logger.Warn("Encoder exited while stream was running, restarting")
		s.stopLocked()
	}
	if s.running.Load() || s.process.IsRunning() {
		return nil
	}

	s.logger.Info("Starting stream", "dir", s.Dir)
	if err := s.process.Start(); err != nil {
		s.logger.Warn("Encoder failed to start", "error", err)
		s.stopLocked()
		return fmt.Errorf("start encoder: %w", err)
	}

	err := s.poller.Wait(ctx, func() bool {
		s.logger.Debug("Waiting for stream output")
		return s.kind.CheckStarted(s.Dir)
	})
	if err != nil {
		s.logger.Warn("Stream failed to start", "error", err)
		s.stopLocked()
		return err
	}

	// The first viewer counts as a hit so the next tick cannot stop the
	// stream before they fetch anything.
	s.hits.Store(1)
	s.idle = idleTicks
	s.running.Store(true)
	s.logger.Info("Stream ready")
	return nil
}

// Stop marks the stream stopped and tells the encoder to terminate. It is
// safe to call in any state.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	s.logger.Info("Stopping stream")
	s.running.Store(false)
	s.process.Stop()
}

// Cleanup stops the stream and releases the encoder for good.
func (s *Stream) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.process.Cleanup()
	s.closed = true
}

// RecordHit counts a request that was served stream data.
func (s *Stream) RecordHit() {
	s.hits.Add(1)
}

// Tick is the keepalive. It pokes the encoder, notices an encoder that died
// underneath a running stream, and stops a stream that saw no hits over a
// whole idle window. The hit count is reset last, on every tick.
func (s *Stream) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.process.Poke()

	if s.running.Load() && !s.process.IsRunning() {
		s.logger.Warn("Encoder exited, marking stream stopped")
		s.stopLocked()
	}

	if s.running.Load() && !s.startOnLoad {
		s.idle--
		if s.idle <= 0 {
			s.idle = idleTicks
			if hits := s.hits.Swap(0); hits == 0 {
				s.logger.Info("No further requests, shutting down stream")
				s.stopLocked()
			} else {
				s.logger.Debug("Stream continuing", "hits", hits)
			}
			return
		}
	}

	s.hits.Store(0)
}

// ServerReady is called once the HTTP server accepts connections.
func (s *Stream) ServerReady(ctx context.Context) error {
	if !s.startOnLoad {
		return nil
	}
	return s.EnsureStarted(ctx)
}

// CanAccept reports whether this stream handles a GET for pathInfo.
func (s *Stream) CanAccept(pathInfo string) bool { return s.kind.CanAccept(pathInfo) }

// CanPost reports whether this stream handles an upload to pathInfo.
func (s *Stream) CanPost(pathInfo string) bool { return s.kind.CanPost(pathInfo) }

func (s *Stream) ServeGet(w http.ResponseWriter, r *http.Request, pathInfo string) {
	s.kind.Get(s, w, r, pathInfo)
}

func (s *Stream) ServePost(w http.ResponseWriter, r *http.Request, pathInfo string) {
	s.kind.Post(s, w, r, pathInfo)
}
