package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

// decodeArgs unmarshals the request arguments into v
func decodeArgs(req *Request, v interface{}) error {
	if len(req.Args) == 0 {
		return fmt.Errorf("%w: %s requires arguments", nativestorage.ErrNullReference, req.Operation)
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("%w: invalid %s args: %v", nativestorage.ErrWrongParameter, req.Operation, err)
	}
	return nil
}

func (s *Server) handleInitialize(req *Request) Response {
	report, err := s.svc.Initialize(s.reqCtx(req))
	if err != nil {
		return errorResponse(err)
	}
	return dataResponse(report)
}

func (s *Server) handleInitWithSuite(req *Request) Response {
	var args SuiteArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}
	if err := s.svc.InitWithSuiteName(args.Name); err != nil {
		return errorResponse(err)
	}
	return dataResponse(SuiteArgs{Name: s.svc.Suite()})
}

func (s *Server) handlePut(req *Request) Response {
	var args PutArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}
	if len(args.Value) == 0 || bytes.Equal(bytes.TrimSpace(args.Value), []byte("null")) {
		return errorResponse(fmt.Errorf("%w: value", nativestorage.ErrNullReference))
	}

	wrongType := func(want string) Response {
		return errorResponse(fmt.Errorf("%w: %s expects a %s value", nativestorage.ErrWrongParameter, req.Operation, want))
	}

	var err error
	switch req.Operation {
	case OpPutBoolean:
		var b bool
		if json.Unmarshal(args.Value, &b) != nil {
			return wrongType("boolean")
		}
		err = s.svc.PutBoolean(args.Key, b)
	case OpPutInt:
		var i int64
		if json.Unmarshal(args.Value, &i) != nil {
			return wrongType("integer")
		}
		err = s.svc.PutInt(args.Key, i)
	case OpPutDouble:
		var f float64
		if json.Unmarshal(args.Value, &f) != nil {
			return wrongType("number")
		}
		err = s.svc.PutDouble(args.Key, f)
	default:
		var str string
		if json.Unmarshal(args.Value, &str) != nil {
			return wrongType("string")
		}
		err = s.svc.PutString(args.Key, str)
	}
	if err != nil {
		return errorResponse(err)
	}
	return Response{Success: true}
}

func (s *Server) handleGet(req *Request) Response {
	var args KeyArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}

	var value interface{}
	var err error
	switch req.Operation {
	case OpGetBoolean:
		value, err = s.svc.GetBoolean(args.Key)
	case OpGetInt:
		value, err = s.svc.GetInt(args.Key)
	case OpGetDouble:
		value, err = s.svc.GetDouble(args.Key)
	default:
		str, ok, gerr := s.svc.GetString(args.Key)
		if ok {
			value = str
		}
		err = gerr
	}
	if err != nil {
		return errorResponse(err)
	}
	return dataResponse(ValueResponse{Key: args.Key, Value: value})
}

func (s *Server) handleSetItem(req *Request) Response {
	var args SetItemArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}
	if err := s.svc.SetItem(args.Key, args.Value); err != nil {
		return errorResponse(err)
	}
	return Response{Success: true}
}

func (s *Server) handleGetItem(req *Request) Response {
	var args KeyArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}
	value, err := s.svc.GetItem(args.Key)
	if err != nil {
		return errorResponse(err)
	}
	return dataResponse(ValueResponse{Key: args.Key, Value: value})
}

func (s *Server) handleRemove(req *Request) Response {
	var args KeyArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}
	if err := s.svc.Remove(args.Key); err != nil {
		return errorResponse(err)
	}
	return Response{Success: true}
}

func (s *Server) handleClear(_ *Request) Response {
	if err := s.svc.Clear(); err != nil {
		return errorResponse(err)
	}
	return Response{Success: true}
}

func (s *Server) handleKeys(_ *Request) Response {
	keys, err := s.svc.Keys()
	if err != nil {
		return errorResponse(err)
	}
	if keys == nil {
		keys = []string{}
	}
	return dataResponse(KeysResponse{Keys: keys})
}

// handleBatch runs operations in order and stops at the first failure.
// Nested batches and shutdown are rejected.
func (s *Server) handleBatch(req *Request) Response {
	var args BatchArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResponse(err)
	}

	var results []Response
	for _, op := range args.Operations {
		if op.Operation == OpBatch || op.Operation == OpShutdown {
			results = append(results, errorResponse(fmt.Errorf("%w: %s is not allowed in a batch", nativestorage.ErrWrongParameter, op.Operation)))
			break
		}
		sub := Request{
			Operation:     op.Operation,
			Args:          op.Args,
			RequestID:     req.RequestID,
			ClientVersion: req.ClientVersion,
		}
		result := s.handleRequest(&sub)
		results = append(results, result)
		if !result.Success {
			break
		}
	}

	resp := dataResponse(BatchResponse{Results: results})
	if n := len(results); n > 0 && !results[n-1].Success {
		resp.Success = false
		resp.Error = results[n-1].Error
		resp.Code = results[n-1].Code
	}
	return resp
}
