package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tarnlabs/tarn/internal/bridge"
	"github.com/tarnlabs/tarn/internal/store"
)

// maxLineBytes bounds one request line. Payloads are single records or search
// requests; anything past this is a protocol violation, not data. An
// oversized line is drained and skipped like any other malformed line; it
// must never stop the stream.
const maxLineBytes = 4 << 20

// errLineTooLong marks a request line over maxLineBytes.
var errLineTooLong = errors.New("request line too long")

// handlerFunc executes one method. The returned value is marshaled into the
// response; a nil value with a nil error becomes a null result.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server reads newline-delimited JSON-RPC requests and writes one response
// line per request. Requests are handled strictly in order, one at a time;
// ordering guarantees to the host depend on it. All logging goes to the
// supplied logger (stderr in practice) because stdout is the protocol
// channel.
type Server struct {
	handlers map[string]handlerFunc
	log      *slog.Logger
}

// NewServer builds a Server exposing b's operations.
func NewServer(b *bridge.Bridge, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{log: log}
	s.handlers = methodTable(b)
	return s
}

// Run serves until r is exhausted or ctx is cancelled. Lines that are not
// valid JSON-RPC requests are skipped without a response; a host bug that
// garbles a line must not wedge the stream with replies the host cannot
// correlate.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	in := bufio.NewReaderSize(r, 64*1024)
	out := bufio.NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readLine(in)
		if errors.Is(err, errLineTooLong) {
			s.log.Debug("skipping oversized request line")
			continue
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading requests: %w", err)
		}

		if len(line) > 0 {
			var req Request
			if uerr := json.Unmarshal(line, &req); uerr != nil || req.Method == "" {
				s.log.Debug("skipping malformed request line", "error", uerr)
			} else {
				resp := s.dispatch(ctx, req)
				if werr := writeResponse(out, resp); werr != nil {
					return fmt.Errorf("writing response: %w", werr)
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// readLine reads one newline-terminated line, without the terminator. A line
// over maxLineBytes is drained to its newline (or EOF) and reported as
// errLineTooLong so the caller can skip it and keep serving.
func readLine(in *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := in.ReadSlice('\n')
		line = append(line, chunk...)

		switch err {
		case nil, io.EOF:
			return bytes.TrimSuffix(line, []byte{'\n'}), err
		case bufio.ErrBufferFull:
			if len(line) > maxLineBytes {
				return nil, drainLine(in)
			}
		default:
			return nil, err
		}
	}
}

// drainLine discards input up to and including the next newline, then
// reports errLineTooLong. Hitting EOF mid-drain is fine; the next read
// observes it.
func drainLine(in *bufio.Reader) error {
	for {
		_, err := in.ReadSlice('\n')
		switch err {
		case nil, io.EOF:
			return errLineTooLong
		case bufio.ErrBufferFull:
			continue
		default:
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (resp Response) {
	// A handler panic must not take the worker down; the host sees an
	// internal error and the stream keeps serving.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", "method", req.Method, "panic", r)
			resp = errorResponse(req.ID, CodeInternalError, "internal error", fmt.Sprint(r))
		}
	}()

	h, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method, nil)
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return errorResponse(req.ID, codeFor(err), err.Error(), dataFor(err))
	}
	return resultResponse(req.ID, result)
}

func writeResponse(out *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if err := out.WriteByte('\n'); err != nil {
		return err
	}
	return out.Flush()
}

// codeFor maps domain errors onto JSON-RPC codes: caller mistakes (bad
// payloads, bad filters, unknown update targets) are invalid-params,
// everything else is internal.
func codeFor(err error) int {
	var verr *bridge.ValidationError
	var perr *store.BadPredicateError
	switch {
	case errors.As(err, &verr), errors.As(err, &perr), errors.Is(err, bridge.ErrNotFound):
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

// dataFor attaches structured detail where it exists.
func dataFor(err error) any {
	var verr *bridge.ValidationError
	if errors.As(err, &verr) {
		return map[string]any{
			"missing": verr.Missing,
			"invalid": verr.Invalid,
		}
	}
	return nil
}
