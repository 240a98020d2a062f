package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corey/bakewatch/internal/domain/debounce"
	"github.com/corey/bakewatch/internal/domain/watch"
	"github.com/corey/bakewatch/internal/logging"
)

// Watch backends.
const (
	BackendFsnotify = "fsnotify"
	BackendNotify   = "notify"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "250ms", "1s" and similar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings is the content of bakewatch.yaml.
type Settings struct {
	// Input is the site source directory, relative to the project root.
	Input string `yaml:"input"`
	// Output is where the build writes the site.
	Output string `yaml:"output"`
	// SiteConfig is the file under Input whose change forces a reinit build.
	SiteConfig      string   `yaml:"site_config"`
	RebuildInterval Duration `yaml:"rebuild_interval"`

	Build struct {
		Command []string          `yaml:"command"`
		Timeout Duration          `yaml:"timeout"`
		Env     map[string]string `yaml:"env"`
	} `yaml:"build"`

	Watch struct {
		Backend      string   `yaml:"backend"`
		PollInterval Duration `yaml:"poll_interval"`
		Debounce     Duration `yaml:"debounce"`
		Recursive    bool     `yaml:"recursive"`
		SkipHidden   bool     `yaml:"skip_hidden"`
	} `yaml:"watch"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultSettings returns the configuration used when bakewatch.yaml is absent.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.Input = "src"
	s.Output = "output"
	s.SiteConfig = "jbake.properties"
	s.RebuildInterval = Duration(time.Second)

	s.Build.Timeout = Duration(10 * time.Minute)

	s.Watch.Backend = BackendFsnotify
	s.Watch.PollInterval = Duration(watch.DefaultPollInterval)
	s.Watch.Debounce = Duration(debounce.DefaultDelay)
	s.Watch.Recursive = true
	s.Watch.SkipHidden = true

	s.Log.Level = "info"
	s.Log.Format = "text"
	return s
}

// LoadSettings reads path over the defaults. A missing file yields the
// defaults without error.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, s.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Validate checks value ranges and fills the derived build command.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Input) == "" {
		return errors.New("input must not be empty")
	}
	switch s.Watch.Backend {
	case BackendFsnotify, BackendNotify:
	default:
		return fmt.Errorf("invalid watch backend: %q", s.Watch.Backend)
	}
	if s.Watch.PollInterval <= 0 {
		return fmt.Errorf("invalid watch.poll_interval: %s", s.Watch.PollInterval.Std())
	}
	if s.Watch.Debounce <= 0 {
		return fmt.Errorf("invalid watch.debounce: %s", s.Watch.Debounce.Std())
	}
	if s.RebuildInterval <= 0 {
		return fmt.Errorf("invalid rebuild_interval: %s", s.RebuildInterval.Std())
	}
	if s.Build.Timeout < 0 {
		return fmt.Errorf("invalid build.timeout: %s", s.Build.Timeout.Std())
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", s.Log.Format)
	}
	if len(s.Build.Command) == 0 {
		s.Build.Command = []string{"jbake", "-b", s.Input, s.Output}
	}
	return nil
}

// InputDir resolves Input against the project root.
func (s *Settings) InputDir(projectRoot string) string {
	if filepath.IsAbs(s.Input) {
		return s.Input
	}
	return filepath.Join(projectRoot, s.Input)
}

// Encode renders the settings as YAML.
func (s *Settings) Encode() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
