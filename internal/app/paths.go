package app

import (
	"os"
	"path/filepath"
	"strconv"
)

// ConfigFileName is the optional project configuration file.
const ConfigFileName = "bakewatch.yaml"

// Paths holds all resolved filesystem paths for a project and its
// .bakewatch/ state directory.
type Paths struct {
	Project string // project root
	Config  string // bakewatch.yaml

	Root string // .bakewatch/
	DB   string // .bakewatch/history.db

	LogDir   string // .bakewatch/log/
	WatchLog string // .bakewatch/log/watch.log

	RunDir  string // .bakewatch/run/
	PIDFile string // .bakewatch/run/watch.pid
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, ".bakewatch")
	return &Paths{
		Project: projectRoot,
		Config:  filepath.Join(projectRoot, ConfigFileName),

		Root: root,
		DB:   filepath.Join(root, "history.db"),

		LogDir:   filepath.Join(root, "log"),
		WatchLog: filepath.Join(root, "log", "watch.log"),

		RunDir:  filepath.Join(root, "run"),
		PIDFile: filepath.Join(root, "run", "watch.pid"),
	}
}

// EnsureDirs creates all subdirectories under .bakewatch/. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.LogDir, p.RunDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// WritePID records the current process as the running watcher.
func (p *Paths) WritePID() error {
	return os.WriteFile(p.PIDFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// CleanEphemeral removes runtime files. Called on clean shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
}
