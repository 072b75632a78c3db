package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type Config struct {
	// Command is the server executable and its arguments.
	Command []string
	Dir     string
	Env     []string
	// LaunchWindow is how long Start watches for an immediate exit.
	LaunchWindow   time.Duration
	DefaultTimeout time.Duration
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

// Client owns exactly one server subprocess and its stdio streams. No other
// component may write to the process's stdin or read its stdout.
type Client struct {
	cfg    Config
	cmd    *exec.Cmd
	conn   *conn
	stderr *tailBuffer

	exited  chan struct{}
	waitErr error

	stopOnce sync.Once
}

func NewClient(cfg Config) *Client {
	if cfg.LaunchWindow <= 0 {
		cfg.LaunchWindow = 100 * time.Millisecond
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	return &Client{cfg: cfg}
}

// Start spawns the server process and attaches the transport. It returns a
// LaunchError when the executable is missing or the process exits within the
// launch window.
func (c *Client) Start(ctx context.Context) error {
	if len(c.cfg.Command) == 0 {
		return &LaunchError{Command: "", Err: errors.New("empty server command")}
	}
	cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Dir = c.cfg.Dir
	if len(c.cfg.Env) > 0 {
		cmd.Env = c.cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &LaunchError{Command: c.cfg.Command[0], Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &LaunchError{Command: c.cfg.Command[0], Err: err}
	}
	c.stderr = newTailBuffer(8192)
	cmd.Stderr = c.stderr

	if err := cmd.Start(); err != nil {
		return &LaunchError{Command: c.cfg.Command[0], Err: err}
	}
	c.cmd = cmd
	c.conn = newConn(stdin, stdout)
	c.exited = make(chan struct{})

	go func() {
		c.waitErr = cmd.Wait()
		c.conn.close(&ProtocolError{Reason: "server process exited"})
		close(c.exited)
	}()

	select {
	case <-c.exited:
		return &LaunchError{
			Command: c.cfg.Command[0],
			Err:     fmt.Errorf("process exited during launch: %v (stderr: %s)", c.waitErr, c.stderr.String()),
		}
	case <-ctx.Done():
		c.Stop()
		return &LaunchError{Command: c.cfg.Command[0], Err: ctx.Err()}
	case <-time.After(c.cfg.LaunchWindow):
		return nil
	}
}

// Call writes one request with a unique correlation id and waits for the
// matching response, the timeout, or context cancellation, whichever comes
// first. A zero timeout uses the configured default.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, time.Duration, error) {
	if c.conn == nil {
		return nil, 0, &ProtocolError{Reason: "client not started"}
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	return c.conn.roundTrip(ctx, method, params, timeout)
}

// SendRaw writes one raw frame to the server's stdin, bypassing request
// framing and correlation. Error-scenario probes use it to send frames a
// well-behaved client never would; any reply carries no known id and is
// ignored by the read loop.
func (c *Client) SendRaw(frame []byte) error {
	if c.conn == nil {
		return &ProtocolError{Reason: "client not started"}
	}
	return c.conn.writeRaw(frame)
}

// Stop terminates the subprocess: SIGTERM, a bounded grace period, then
// SIGKILL. Safe to call multiple times and after the process has exited.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		if c.cmd == nil || c.cmd.Process == nil {
			return
		}
		if c.conn != nil {
			c.conn.close(&ProtocolError{Reason: "client stopped"})
		}
		select {
		case <-c.exited:
			return
		default:
		}
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-c.exited:
			return
		case <-time.After(c.cfg.GracePeriod):
		}
		_ = c.cmd.Process.Kill()
		<-c.exited
	})
	return nil
}

// Stderr returns the tail of the subprocess's stderr for diagnostics.
func (c *Client) Stderr() string {
	if c.stderr == nil {
		return ""
	}
	return c.stderr.String()
}

func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	raw, _, err := c.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "mcp-cert", "version": "1.0"},
		"capabilities":    map[string]any{},
	}, 0)
	if err != nil {
		return nil, err
	}
	var out InitializeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode initialize result: " + err.Error()}
	}
	return &out, nil
}

func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, _, err := c.Call(ctx, "tools/list", nil, 0)
	if err != nil {
		return nil, err
	}
	var out ToolsListResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode tools/list result: " + err.Error()}
	}
	return out.Tools, nil
}

func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, _, err := c.Call(ctx, "resources/list", nil, 0)
	if err != nil {
		return nil, err
	}
	var out ResourcesListResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode resources/list result: " + err.Error()}
	}
	return out.Resources, nil
}

func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	raw, _, err := c.Call(ctx, "prompts/list", nil, 0)
	if err != nil {
		return nil, err
	}
	var out PromptsListResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode prompts/list result: " + err.Error()}
	}
	return out.Prompts, nil
}

func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*ToolResult, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	raw, _, err := c.Call(ctx, "tools/call", params, 0)
	if err != nil {
		return nil, err
	}
	var out ToolResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode tools/call result: " + err.Error()}
	}
	return &out, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	raw, _, err := c.Call(ctx, "resources/read", map[string]any{"uri": uri}, 0)
	if err != nil {
		return nil, err
	}
	var out ResourceContents
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode resources/read result: " + err.Error()}
	}
	return &out, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*PromptResult, error) {
	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	raw, _, err := c.Call(ctx, "prompts/get", params, 0)
	if err != nil {
		return nil, err
	}
	var out PromptResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: "decode prompts/get result: " + err.Error()}
	}
	return &out, nil
}

// conn is the line-delimited JSON-RPC transport over a pair of streams,
// split from process management so it can be exercised with in-memory pipes.
type conn struct {
	writer io.Writer
	wmu    sync.Mutex

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcOutcome

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type rpcOutcome struct {
	resp *Response
	err  error
}

func newConn(w io.Writer, r io.Reader) *conn {
	c := &conn{
		writer:  w,
		pending: map[int64]chan rpcOutcome{},
		closed:  make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *conn) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, time.Duration, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcOutcome, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}
	start := time.Now()
	c.wmu.Lock()
	_, err = c.writer.Write(append(frame, '\n'))
	c.wmu.Unlock()
	if err != nil {
		return nil, time.Since(start), &ProtocolError{Reason: "write request: " + err.Error()}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-ch:
		elapsed := time.Since(start)
		if outcome.err != nil {
			return nil, elapsed, outcome.err
		}
		if outcome.resp.Error != nil {
			return nil, elapsed, &RemoteError{Method: method, Code: outcome.resp.Error.Code, Message: outcome.resp.Error.Message}
		}
		return outcome.resp.Result, elapsed, nil
	case <-timer.C:
		return nil, time.Since(start), &TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, time.Since(start), &TimeoutError{Method: method, Timeout: timeout}
		}
		return nil, time.Since(start), ctx.Err()
	case <-c.closed:
		return nil, time.Since(start), c.closeErr
	}
}

func (c *conn) writeRaw(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.writer.Write(append(frame, '\n')); err != nil {
		return &ProtocolError{Reason: "write raw frame: " + err.Error()}
	}
	return nil
}

func (c *conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			// A frame we cannot parse means the stream is no longer
			// trustworthy for correlation; fail the calls in flight.
			c.failPending(&ProtocolError{Reason: "unparseable frame", Frame: string(line)})
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			// Notification or stale response; ignore.
			continue
		}
		select {
		case ch <- rpcOutcome{resp: &resp}:
		default:
		}
	}
	err := scanner.Err()
	reason := "server closed stdout"
	if err != nil {
		reason = "read stdout: " + err.Error()
	}
	c.close(&ProtocolError{Reason: reason})
}

func (c *conn) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.pending {
		select {
		case ch <- rpcOutcome{err: err}:
		default:
		}
	}
}

func (c *conn) close(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
