// Package socket implements a JSON-over-Unix-socket control protocol for a
// running watcher. Each message is one JSON object followed by \n.
package socket

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/corey/bakewatch/internal/domain/watch"
	"github.com/corey/bakewatch/internal/ports"
)

// SocketPath returns the Unix socket path for a given project root.
// Format: /tmp/bakewatch-{first12hex}.sock
func SocketPath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/bakewatch-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodHealth   = "health"
	MethodRebuild  = "rebuild"
	MethodHistory  = "history"
	MethodLogLevel = "log_level"
	MethodShutdown = "shutdown"
)

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HealthResult is the result of a health request.
type HealthResult struct {
	Status    string             `json:"status"`
	Uptime    string             `json:"uptime"`
	Input     string             `json:"input"`
	Roots     []watch.WatchInfo  `json:"roots"`
	Debounce  string             `json:"debounce"`
	Overflows int                `json:"overflows"`
	Dirty     bool               `json:"dirty"`
	Building  bool               `json:"building"`
	Builds    int                `json:"builds"`
	LastBuild *ports.BuildRecord `json:"last_build,omitempty"`
}

// RebuildParams is the params for a rebuild request.
type RebuildParams struct {
	Reinit bool `json:"reinit"`
}

// RebuildResult is the result of a rebuild request.
type RebuildResult struct {
	Queued bool `json:"queued"`
}

// HistoryParams is the params for a history request.
type HistoryParams struct {
	Limit int `json:"limit"`
}

// HistoryResult is the result of a history request.
type HistoryResult struct {
	Builds []ports.BuildRecord `json:"builds"`
	Count  int                 `json:"count"`
}

// LogLevelParams is the params for a log_level request.
type LogLevelParams struct {
	Level string `json:"level"`
}
