// Package rpc is the host bridge: a line-delimited JSON protocol over a Unix
// socket that lets the host app call the native storage service from another
// process.
package rpc

import (
	"encoding/json"
)

// Operation constants for the bridge calls
const (
	OpPing   = "ping"
	OpStatus = "status"
	OpHealth = "health"

	OpInitialize    = "initialize"
	OpInitWithSuite = "init_with_suite_name"

	OpPutBoolean = "put_boolean"
	OpPutInt     = "put_int"
	OpPutDouble  = "put_double"
	OpPutString  = "put_string"
	OpGetBoolean = "get_boolean"
	OpGetInt     = "get_int"
	OpGetDouble  = "get_double"
	OpGetString  = "get_string"

	OpSetItem = "set_item"
	OpGetItem = "get_item"
	OpRemove  = "remove"
	OpClear   = "clear"
	OpKeys    = "keys"

	OpBatch    = "batch"
	OpShutdown = "shutdown"
)

// Request represents a call from the host to the bridge
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
}

// Response represents the bridge's answer. Code carries the service error
// code (1 write failed, 2 not found, 3 null reference, 6 wrong parameter)
// when the failure has one.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      int             `json:"code,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// KeyArgs names a single key
type KeyArgs struct {
	Key string `json:"key"`
}

// PutArgs carries a value for the put operations. Value must be a JSON
// boolean, number or string matching the operation.
type PutArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SetItemArgs carries a string item
type SetItemArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SuiteArgs selects a suite
type SuiteArgs struct {
	Name string `json:"name"`
}

// ValueResponse is returned by the get operations. get_string reports a
// missing key as a null value.
type ValueResponse struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// KeysResponse is returned by keys
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// PingResponse is the response for a ping operation
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// StatusResponse describes the running bridge
type StatusResponse struct {
	Version          string  `json:"version"`
	StoreDir         string  `json:"store_dir"`
	Suite            string  `json:"suite"`
	SocketPath       string  `json:"socket_path"`
	PID              int     `json:"pid"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	LastActivityTime string  `json:"last_activity_time"`
	Requests         int64   `json:"requests"`
	Errors           int64   `json:"errors"`
}

// HealthResponse is the response for a health check
type HealthResponse struct {
	Status        string  `json:"status"` // "healthy" or "unhealthy"
	Version       string  `json:"version"`
	ClientVersion string  `json:"client_version,omitempty"`
	Compatible    bool    `json:"compatible"`
	Uptime        float64 `json:"uptime_seconds"`
	ActiveConns   int32   `json:"active_connections"`
	Error         string  `json:"error,omitempty"`
}

// BatchArgs represents arguments for batch operations
type BatchArgs struct {
	Operations []BatchOperation `json:"operations"`
}

// BatchOperation represents a single operation in a batch
type BatchOperation struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// BatchResponse contains the results of a batch operation. Execution stops
// at the first failed operation.
type BatchResponse struct {
	Results []Response `json:"results"`
}
