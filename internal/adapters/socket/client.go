package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/corey/bakewatch/internal/ports"
)

// Client connects to a running watcher over its Unix socket.
type Client struct {
	sockPath string
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// Health asks the watcher for its status.
func (c *Client) Health() (*HealthResult, error) {
	var out HealthResult
	if err := c.call(MethodHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rebuild asks the watcher to build on its next cycle.
func (c *Client) Rebuild(reinit bool) (*RebuildResult, error) {
	var out RebuildResult
	if err := c.call(MethodRebuild, RebuildParams{Reinit: reinit}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns up to limit recent builds, newest first.
func (c *Client) History(limit int) ([]ports.BuildRecord, error) {
	var out HistoryResult
	if err := c.call(MethodHistory, HistoryParams{Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Builds, nil
}

// SetLogLevel changes the watcher's log level at runtime.
func (c *Client) SetLogLevel(level string) error {
	return c.call(MethodLogLevel, LogLevelParams{Level: level}, nil)
}

// Shutdown asks the watcher to exit.
func (c *Client) Shutdown() error {
	return c.call(MethodShutdown, nil, nil)
}

// Ping checks if the watcher is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) call(method string, params, out any) error {
	return c.callWithTimeout(method, params, out, 5*time.Second)
}

func (c *Client) callWithTimeout(method string, params, out any, timeout time.Duration) error {
	req := Request{ID: "1", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Deadline covers the whole request/response.
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		return fmt.Errorf("empty response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("server error: %s", resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}
