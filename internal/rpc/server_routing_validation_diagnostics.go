package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

// checkVersionCompatibility validates client version against server version.
// The major versions must match and the bridge must not be older than the
// client.
func (s *Server) checkVersionCompatibility(clientVersion string) error {
	// Allow empty client version (hand-written requests)
	if clientVersion == "" {
		return nil
	}

	serverVer := ServerVersion
	if !strings.HasPrefix(serverVer, "v") {
		serverVer = "v" + serverVer
	}
	clientVer := clientVersion
	if !strings.HasPrefix(clientVer, "v") {
		clientVer = "v" + clientVer
	}

	// Dev builds carry no comparable version
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return nil
	}

	if semver.Major(serverVer) != semver.Major(clientVer) {
		if semver.Compare(serverVer, clientVer) < 0 {
			return fmt.Errorf("incompatible major versions: client %s, bridge %s. Bridge is older; restart it with a current nstore",
				clientVersion, ServerVersion)
		}
		return fmt.Errorf("incompatible major versions: client %s, bridge %s. Client is older; upgrade it to the bridge's major version",
			clientVersion, ServerVersion)
	}

	if semver.Compare(serverVer, clientVer) < 0 {
		return fmt.Errorf("version mismatch: client v%s requires a bridge upgrade (bridge is v%s)",
			strings.TrimPrefix(clientVersion, "v"), strings.TrimPrefix(ServerVersion, "v"))
	}
	return nil
}

func (s *Server) handleRequest(req *Request) Response {
	start := time.Now()
	s.requests.Add(1)
	s.lastActivityTime.Store(start)

	// Ping and health answer any client so it can learn the bridge version
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := s.checkVersionCompatibility(req.ClientVersion); err != nil {
			s.failures.Add(1)
			return Response{Error: err.Error()}
		}
	}

	var resp Response
	switch req.Operation {
	case OpPing:
		resp = s.handlePing(req)
	case OpStatus:
		resp = s.handleStatus(req)
	case OpHealth:
		resp = s.handleHealth(req)
	case OpInitialize:
		resp = s.handleInitialize(req)
	case OpInitWithSuite:
		resp = s.handleInitWithSuite(req)
	case OpPutBoolean, OpPutInt, OpPutDouble, OpPutString:
		resp = s.handlePut(req)
	case OpGetBoolean, OpGetInt, OpGetDouble, OpGetString:
		resp = s.handleGet(req)
	case OpSetItem:
		resp = s.handleSetItem(req)
	case OpGetItem:
		resp = s.handleGetItem(req)
	case OpRemove:
		resp = s.handleRemove(req)
	case OpClear:
		resp = s.handleClear(req)
	case OpKeys:
		resp = s.handleKeys(req)
	case OpBatch:
		resp = s.handleBatch(req)
	case OpShutdown:
		resp = Response{Success: true}
	default:
		resp = Response{
			Error: fmt.Sprintf("unknown operation: %s", req.Operation),
			Code:  nativestorage.CodeWrongParameter,
		}
	}

	if !resp.Success {
		s.failures.Add(1)
	}
	s.logger.Debug("bridge request",
		zap.String("operation", req.Operation),
		zap.String("request_id", req.RequestID),
		zap.Bool("success", resp.Success),
		zap.Duration("latency", time.Since(start)))
	return resp
}

func (s *Server) reqCtx(_ *Request) context.Context {
	return context.Background()
}

// errorResponse reports err with its service error code
func errorResponse(err error) Response {
	return Response{Error: err.Error(), Code: nativestorage.Code(err)}
}

func dataResponse(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to encode response: %v", err)}
	}
	return Response{Success: true, Data: data}
}

func (s *Server) handlePing(_ *Request) Response {
	return dataResponse(PingResponse{
		Message: "pong",
		Version: ServerVersion,
	})
}

func (s *Server) handleStatus(_ *Request) Response {
	lastActivity := s.lastActivityTime.Load().(time.Time)
	return dataResponse(StatusResponse{
		Version:          ServerVersion,
		StoreDir:         s.storeDir,
		Suite:            s.svc.Suite(),
		SocketPath:       s.socketPath,
		PID:              os.Getpid(),
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		LastActivityTime: lastActivity.Format(time.RFC3339),
		Requests:         s.requests.Load(),
		Errors:           s.failures.Load(),
	})
}

func (s *Server) handleHealth(req *Request) Response {
	health := HealthResponse{
		Status:        "healthy",
		Version:       ServerVersion,
		ClientVersion: req.ClientVersion,
		Compatible:    s.checkVersionCompatibility(req.ClientVersion) == nil,
		Uptime:        time.Since(s.startTime).Seconds(),
		ActiveConns:   atomic.LoadInt32(&s.activeConns),
	}
	if _, err := s.svc.Keys(); err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}

	resp := dataResponse(health)
	if health.Status == "unhealthy" {
		resp.Success = false
		resp.Error = health.Error
	}
	return resp
}
