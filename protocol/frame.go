package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// WriteRequest writes one request header and its payload.
func WriteRequest(w io.Writer, req Request) error {
	if int(req.Header.PayloadSize) != len(req.Payload) {
		return fmt.Errorf("%w: header declares %d payload bytes, have %d", ErrMalformedHeader, req.Header.PayloadSize, len(req.Payload))
	}

	frame := append(EncodeRequestHeader(req.Header), req.Payload...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write request %s: %w", req.Header.Code, err)
	}
	return nil
}

// WriteResponse writes one response header and its payload.
func WriteResponse(w io.Writer, resp Response) error {
	if int(resp.Header.PayloadSize) != len(resp.Payload) {
		return fmt.Errorf("%w: header declares %d payload bytes, have %d", ErrMalformedHeader, resp.Header.PayloadSize, len(resp.Payload))
	}

	frame := append(EncodeResponseHeader(resp.Header), resp.Payload...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write response %s: %w", resp.Header.Code, err)
	}
	return nil
}

// ReadRequest reads one request. A connection closed cleanly before any
// header byte yields io.EOF.
func ReadRequest(r io.Reader, maxPayload uint32) (Request, error) {
	raw := make([]byte, RequestHeaderSize)
	if err := readHeader(r, raw); err != nil {
		return Request{}, err
	}

	header, err := DecodeRequestHeader(raw)
	if err != nil {
		return Request{}, err
	}
	payload, err := readPayload(r, header.PayloadSize, maxPayload)
	if err != nil {
		return Request{}, err
	}
	return Request{Header: header, Payload: payload}, nil
}

// ReadResponse reads one response. A connection closed cleanly before any
// header byte yields io.EOF.
func ReadResponse(r io.Reader, maxPayload uint32) (Response, error) {
	raw := make([]byte, ResponseHeaderSize)
	if err := readHeader(r, raw); err != nil {
		return Response{}, err
	}

	header, err := DecodeResponseHeader(raw)
	if err != nil {
		return Response{}, err
	}
	payload, err := readPayload(r, header.PayloadSize, maxPayload)
	if err != nil {
		return Response{}, err
	}
	return Response{Header: header, Payload: payload}, nil
}

// ReadRequestWithTimeout reads a request with an optional read deadline.
func ReadRequestWithTimeout(conn net.Conn, timeout time.Duration, maxPayload uint32) (Request, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Request{}, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadRequest(conn, maxPayload)
}

// ReadResponseWithTimeout reads a response with an optional read deadline.
func ReadResponseWithTimeout(conn net.Conn, timeout time.Duration, maxPayload uint32) (Response, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Response{}, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadResponse(conn, maxPayload)
}

func readHeader(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: connection closed inside header", ErrMalformedHeader)
		}
		return fmt.Errorf("read header: %w", err)
	}
	return nil
}

func readPayload(r io.Reader, size, maxPayload uint32) ([]byte, error) {
	if maxPayload > 0 && size > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, maxPayload)
	}
	if size == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(size))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload shorter than declared %d bytes", ErrMalformedHeader, size)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
