// Package encoder runs ffmpeg as the process behind a stream.
package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultStopTimeout is how long Stop waits after interrupting the encoder
// before killing it.
const DefaultStopTimeout = 10 * time.Second

// Options describes one encoder.
type Options struct {
	Name   string // Used for log records and the log file name.
	Binary string // Defaults to "ffmpeg".
	Source string

	InputOptions  map[string]string
	OutputOptions map[string]string
	Format        Format

	// Dir receives the encoder's output and is its working directory.
	Dir string
	// Output overrides the playlist or manifest target. HLSPush requires
	// it to be the upload URL of the playlist.
	Output string
	// Token is sent as a bearer token with HLSPush uploads.
	Token string

	// LogDir, when set, receives a rotating log of encoder output per
	// stream. Otherwise output goes to Logger at debug level.
	LogDir string

	Logger      *slog.Logger
	StopTimeout time.Duration
}

// Process is an ffmpeg subprocess that can be started and stopped any
// number of times.
type Process struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	cur  *run
	sink *lumberjack.Logger
}

// run is one invocation of the encoder.
type run struct {
	id       string
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	err      error // Valid once done is closed.
	reported bool  // Protected by Process.mu.
	stat     *process.Process
}

func New(opts Options) *Process {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		opts:   opts,
		logger: logger.With("encoder", opts.Name),
	}
}

// Args returns the command line the encoder is started with.
func (p *Process) Args() []string {
	return buildArgs(p.opts)
}

// IsRunning reports whether the current invocation has not exited yet.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil && !p.cur.exited()
}

// Start clears the output directory and launches the encoder. It returns
// once the process is spawned, not when it produces output.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != nil && !p.cur.exited() {
		return nil
	}
	if err := resetDir(p.opts.Dir); err != nil {
		return fmt.Errorf("prepare output dir %q: %w", p.opts.Dir, err)
	}

	id := uuid.NewString()
	out, err := p.outputLocked(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, p.opts.Binary, buildArgs(p.opts)...)
	cmd.Dir = p.opts.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.opts.StopTimeout

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("run %s: %w", p.opts.Binary, err)
	}

	r := &run{id: id, cmd: cmd, cancel: cancel, done: make(chan struct{})}
	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()
	p.cur = r

	p.logger.Info("Started encoder", "run", id, "pid", cmd.Process.Pid)
	return nil
}

func (p *Process) outputLocked(id string) (io.Writer, error) {
	if p.opts.LogDir == "" {
		return newLogWriter(p.logger.With("run", id)), nil
	}
	if p.sink == nil {
		if err := os.MkdirAll(p.opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("couldn't create encoder log dir at %q: %w", p.opts.LogDir, err)
		}
		p.sink = &lumberjack.Logger{
			Filename:   filepath.Join(p.opts.LogDir, "ffmpeg-"+p.opts.Name+".log"),
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
	}
	fmt.Fprintf(p.sink, "--- run %s started %s\n", id, time.Now().Format(time.RFC3339))
	return p.sink, nil
}

// Stop interrupts the encoder, waits for it to exit and clears the output
// directory. It does nothing if the encoder was never started.
func (p *Process) Stop() {
	p.mu.Lock()
	r := p.cur
	p.cur = nil
	p.mu.Unlock()

	if r == nil {
		return
	}

	r.cancel()
	// WaitDelay bounds this: a process that ignores the interrupt is killed.
	<-r.done
	p.logger.Info("Stopped encoder", "run", r.id)

	if err := resetDir(p.opts.Dir); err != nil {
		p.logger.Warn("Failed to clear output dir", "dir", p.opts.Dir, "error", err)
	}
}

// Cleanup stops the encoder and removes everything it created.
func (p *Process) Cleanup() {
	p.Stop()

	if err := os.RemoveAll(p.opts.Dir); err != nil {
		p.logger.Warn("Failed to remove output dir", "dir", p.opts.Dir, "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("Failed to close encoder log", "error", err)
		}
		p.sink = nil
	}
}

// Poke logs resource usage of a live encoder, or the exit status of one that
// died on its own. An exit is reported once.
func (p *Process) Poke() {
	p.mu.Lock()
	r := p.cur
	if r == nil {
		p.mu.Unlock()
		return
	}
	if r.exited() {
		report := !r.reported
		r.reported = true
		p.mu.Unlock()
		if report {
			p.logger.Warn("Encoder exited unexpectedly", "run", r.id, "error", r.err)
		}
		return
	}
	p.mu.Unlock()

	p.sample(r)
}

func (p *Process) sample(r *run) {
	if r.stat == nil {
		stat, err := process.NewProcess(int32(r.cmd.Process.Pid))
		if err != nil {
			p.logger.Debug("Couldn't inspect encoder", "run", r.id, "error", err)
			return
		}
		r.stat = stat
	}

	cpu, err := r.stat.CPUPercent()
	if err != nil {
		p.logger.Debug("Couldn't read encoder cpu", "run", r.id, "error", err)
		return
	}
	mem, err := r.stat.MemoryInfo()
	if err != nil {
		p.logger.Debug("Couldn't read encoder memory", "run", r.id, "error", err)
		return
	}
	p.logger.Debug("Encoder alive", "run", r.id, "pid", r.cmd.Process.Pid,
		"cpu_percent", cpu, "rss", mem.RSS)
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// resetDir leaves dir existing and empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
