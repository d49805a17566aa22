package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alexzorin/camorigin/internal/stream"
)

type config struct {
	Listen        string                  `toml:"listen"`
	Secret        string                  `toml:"secret"`
	WorkDir       string                  `toml:"work_dir"`
	FFmpeg        string                  `toml:"ffmpeg"`
	Keepalive     time.Duration           `toml:"keepalive"`
	LogLevel      string                  `toml:"log_level"`
	LogFormat     string                  `toml:"log_format"`
	EncoderLogDir string                  `toml:"encoder_log_dir"`
	PublicURL     string                  `toml:"public_url"` // Base URL push encoders upload to.
	Cameras       map[string]cameraConfig `toml:"cameras"`
}

type cameraConfig struct {
	Source       string            `toml:"source"`
	InputOptions map[string]string `toml:"input_options"`
	Streams      []streamConfig    `toml:"streams"`
}

type streamConfig struct {
	Kind          string            `toml:"kind"`
	StartOnLoad   bool              `toml:"start_on_load"`
	OutputOptions map[string]string `toml:"output_options"`
}

func defaultConfigPath() (string, error) {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(confDir, "camorigin.toml"), nil
}

// loadConfig reads the config at path, or the default location when path is
// empty, and fills in defaults.
func loadConfig(path string) (*config, error) {
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}

	var conf config

	md, err := toml.DecodeFile(path, &conf)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in config %q: %s", path, strings.Join(keys, ", "))
	}

	if err := conf.setDefaults(); err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return &conf, nil
}

func (c *config) setDefaults() error {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:31930"
	}
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.Keepalive == 0 {
		c.Keepalive = stream.DefaultKeepalive
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.PublicURL == "" {
		c.PublicURL = "http://" + loopbackAddr(c.Listen)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.WorkDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return err
		}
		c.WorkDir = filepath.Join(cacheDir, "camorigin")
	}
	return nil
}

// loopbackAddr turns a wildcard listen address into one a local encoder can
// connect to.
func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *config) validate() error {
	if c.Secret == "" {
		return errors.New("secret must be set")
	}
	if c.Keepalive < 0 {
		return fmt.Errorf("keepalive must be positive, got %s", c.Keepalive)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if len(c.Cameras) == 0 {
		return errors.New("no cameras configured")
	}

	for _, name := range c.cameraNames() {
		cam := c.Cameras[name]
		if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("camera name %q is not usable in a path", name)
		}
		if cam.Source == "" {
			return fmt.Errorf("camera %s: source must be set", name)
		}
		if len(cam.Streams) == 0 {
			return fmt.Errorf("camera %s: no streams configured", name)
		}
		seen := map[string]bool{}
		for _, sc := range cam.Streams {
			kind, err := stream.KindByName(sc.Kind)
			if err != nil {
				return fmt.Errorf("camera %s: %w", name, err)
			}
			if seen[kind.Name()] {
				return fmt.Errorf("camera %s: stream kind %s configured twice", name, kind.Name())
			}
			seen[kind.Name()] = true
		}
	}
	return nil
}

// cameraNames returns the configured camera names in a stable order.
func (c *config) cameraNames() []string {
	names := make([]string, 0, len(c.Cameras))
	for name := range c.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ensureWorkDir(workDir string) error {
	if _, stat := os.Stat(workDir); os.IsNotExist(stat) {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return fmt.Errorf("couldn't create work dir at %q: %w", workDir, err)
		}
	}
	return nil
}
