package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

// ClientVersion is sent with every request
var ClientVersion = "0.4.0"

// RemoteError is a failed bridge response. It unwraps to the service error
// matching Code, so errors.Is works across the socket.
type RemoteError struct {
	Operation string
	Message   string
	Code      int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case nativestorage.CodeWriteFailed:
		return nativestorage.ErrWriteFailed
	case nativestorage.CodeNotFound:
		return nativestorage.ErrNotFound
	case nativestorage.CodeNullReference:
		return nativestorage.ErrNullReference
	case nativestorage.CodeWrongParameter:
		return nativestorage.ErrWrongParameter
	}
	return nil
}

// Client talks to a bridge over one connection. Calls are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	nextID  int64
}

// TryConnect connects to the bridge at socketPath
func TryConnect(socketPath string) (*Client, error) {
	return TryConnectWithTimeout(socketPath, 2*time.Second)
}

// TryConnectWithTimeout connects with a custom dial timeout
func TryConnectWithTimeout(socketPath string, dialTimeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", socketPath, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: 30 * time.Second,
	}
}

// SetTimeout sets the per-request deadline; zero disables it
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute sends one request and waits for its response. args may be nil, a
// json.RawMessage, or any value that marshals to JSON. A response with
// Success=false is returned together with a *RemoteError.
func (c *Client) Execute(operation string, args interface{}) (*Response, error) {
	var raw json.RawMessage
	switch a := args.(type) {
	case nil:
	case json.RawMessage:
		raw = a
	default:
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal args: %w", err)
		}
		raw = data
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := Request{
		Operation:     operation,
		Args:          raw,
		RequestID:     strconv.FormatInt(c.nextID, 10),
		ClientVersion: ClientVersion,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !resp.Success {
		return &resp, &RemoteError{Operation: operation, Message: resp.Error, Code: resp.Code}
	}
	return &resp, nil
}

// call executes operation and decodes the response data into out when out
// is non-nil
func (c *Client) call(operation string, args, out interface{}) error {
	resp, err := c.Execute(operation, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// Ping checks the bridge is alive and returns its version
func (c *Client) Ping() (*PingResponse, error) {
	var out PingResponse
	if err := c.call(OpPing, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the bridge status
func (c *Client) Status() (*StatusResponse, error) {
	var out StatusResponse
	if err := c.call(OpStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the health report. An unhealthy bridge returns the report
// and an error.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.Execute(OpHealth, nil)
	if resp == nil {
		return nil, err
	}
	var out HealthResponse
	if len(resp.Data) > 0 {
		if uerr := json.Unmarshal(resp.Data, &out); uerr != nil {
			return nil, fmt.Errorf("failed to decode health response: %w", uerr)
		}
	}
	return &out, err
}

// Initialize opens the default suite and runs the legacy migration if needed
func (c *Client) Initialize() (*migrate.Report, error) {
	var out *migrate.Report
	if err := c.call(OpInitialize, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InitWithSuiteName switches the bridge to the named suite
func (c *Client) InitWithSuiteName(name string) error {
	return c.call(OpInitWithSuite, SuiteArgs{Name: name}, nil)
}

func (c *Client) put(op, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.call(op, PutArgs{Key: key, Value: raw}, nil)
}

func (c *Client) PutBoolean(key string, b bool) error { return c.put(OpPutBoolean, key, b) }

func (c *Client) PutInt(key string, i int64) error { return c.put(OpPutInt, key, i) }

func (c *Client) PutDouble(key string, f float64) error { return c.put(OpPutDouble, key, f) }

func (c *Client) PutString(key, s string) error { return c.put(OpPutString, key, s) }

func (c *Client) get(op, key string, out interface{}) error {
	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	if err := c.call(op, KeyArgs{Key: key}, &resp); err != nil {
		return err
	}
	if len(resp.Value) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Value, out)
}

func (c *Client) GetBoolean(key string) (bool, error) {
	var b bool
	err := c.get(OpGetBoolean, key, &b)
	return b, err
}

func (c *Client) GetInt(key string) (int64, error) {
	var i int64
	err := c.get(OpGetInt, key, &i)
	return i, err
}

func (c *Client) GetDouble(key string) (float64, error) {
	var f float64
	err := c.get(OpGetDouble, key, &f)
	return f, err
}

// GetString reports ok=false for a missing key
func (c *Client) GetString(key string) (string, bool, error) {
	var s *string
	if err := c.get(OpGetString, key, &s); err != nil {
		return "", false, err
	}
	if s == nil {
		return "", false, nil
	}
	return *s, true, nil
}

func (c *Client) SetItem(key, value string) error {
	return c.call(OpSetItem, SetItemArgs{Key: key, Value: value}, nil)
}

// GetItem returns an error matching nativestorage.ErrNotFound for a missing key
func (c *Client) GetItem(key string) (string, error) {
	var s string
	err := c.get(OpGetItem, key, &s)
	return s, err
}

func (c *Client) Remove(key string) error {
	return c.call(OpRemove, KeyArgs{Key: key}, nil)
}

func (c *Client) Clear() error {
	return c.call(OpClear, nil, nil)
}

func (c *Client) Keys() ([]string, error) {
	var out KeysResponse
	if err := c.call(OpKeys, nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Batch runs operations on the bridge in order. On failure the partial
// results are returned with the error of the failed operation.
func (c *Client) Batch(ops []BatchOperation) (*BatchResponse, error) {
	resp, err := c.Execute(OpBatch, BatchArgs{Operations: ops})
	if resp == nil {
		return nil, err
	}
	var out BatchResponse
	if len(resp.Data) > 0 {
		if uerr := json.Unmarshal(resp.Data, &out); uerr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to decode batch response: %w", uerr))
		}
	}
	return &out, err
}

// Shutdown asks the bridge to stop
func (c *Client) Shutdown() error {
	return c.call(OpShutdown, nil, nil)
}
