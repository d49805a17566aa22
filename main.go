package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alexzorin/camorigin/internal/encoder"
	"github.com/alexzorin/camorigin/internal/stream"
)

type app struct {
	conf    *config
	ctx     context.Context             // Background ^c context.
	logger  *slog.Logger
	cameras map[string][]*stream.Stream // Streams per camera, in configured order.
	wg      *sync.WaitGroup             // Tracks stream starts and the keepalive.
}

func main() {
	configPath := flag.String("config", "", "Path to the config file (default: camorigin.toml in the user config dir)")
	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, conf.LogLevel, conf.LogFormat)
	slog.SetDefault(logger)

	if err := ensureWorkDir(conf.WorkDir); err != nil {
		logger.Error("Failed to check/create work dir", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown propagates through to the HTTP server, pending
	// readiness polls and the keepalive.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	exitCh := make(chan struct{})

	var wg sync.WaitGroup

	a := &app{
		conf:    conf,
		ctx:     ctx,
		logger:  logger,
		cameras: buildStreams(ctx, conf, logger),
		wg:      &wg,
	}

	// On ^c, cancel the parent context and wait for everybody to exit.
	// If the waiting times out, systemd will kill us eventually.
	go func() {
		<-sigCh
		logger.Info("Received signal, shutting down...")
		cancel()
		close(exitCh)
	}()

	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		logger.Error("Failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// If serving fails, kill everything else by faking ^c from above.
	go func() {
		logger.Info("Starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			sigCh <- os.Interrupt
		}
	}()
	// Graceful shutdown handler for the HTTP server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server did not shut down cleanly", "error", err)
		}
	}()

	// The listener is bound, so encoders that push to us can connect.
	a.serverReady()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := stream.Ticker{Interval: conf.Keepalive, Streams: a.allStreams()}
		ticker.Run(ctx)
	}()

	// To quit, ^c must have been received and nobody may be left on the wait group.
	<-exitCh
	wg.Wait()

	for _, s := range a.allStreams() {
		s.Cleanup()
	}
	logger.Info("Stopped")
}

// buildStreams creates every configured stream with the encoder behind it.
// The config must have been validated.
func buildStreams(ctx context.Context, conf *config, logger *slog.Logger) map[string][]*stream.Stream {
	cameras := map[string][]*stream.Stream{}
	for _, name := range conf.cameraNames() {
		cam := conf.Cameras[name]
		for _, sc := range cam.Streams {
			kind, err := stream.KindByName(sc.Kind)
			if err != nil {
				continue
			}
			dir := filepath.Join(conf.WorkDir, name, kind.Name())

			opts := encoder.Options{
				Name:          name + "-" + kind.Name(),
				Binary:        conf.FFmpeg,
				Source:        cam.Source,
				InputOptions:  cam.InputOptions,
				OutputOptions: sc.OutputOptions,
				Dir:           dir,
				LogDir:        conf.EncoderLogDir,
				Logger:        logger,
			}
			switch kind.(type) {
			case stream.DASH:
				opts.Format = encoder.DASH
				opts.Output = stream.DASHManifest
			case stream.Push:
				opts.Format = encoder.HLSPush
				opts.Output = conf.PublicURL + "/cams/" + url.PathEscape(name) + "/push/" + stream.HLSPlaylist
				opts.Token = conf.Secret
			default:
				opts.Format = encoder.HLS
				opts.Output = stream.HLSPlaylist
			}

			cameras[name] = append(cameras[name], stream.New(stream.Options{
				Camera:      name,
				Dir:         dir,
				Kind:        kind,
				Process:     encoder.New(opts),
				StartOnLoad: sc.StartOnLoad,
				Logger:      logger,
				Context:     ctx,
			}))
		}
	}
	return cameras
}

func (a *app) allStreams() []*stream.Stream {
	var all []*stream.Stream
	for _, name := range a.conf.cameraNames() {
		all = append(all, a.cameras[name]...)
	}
	return all
}
