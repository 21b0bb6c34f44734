package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// contentType is used for every request/response body on this transport;
// gob is self-describing enough for our fixed, known set of message
// types and avoids pulling in a JSON/protobuf dependency for a purely
// internal wire format.
const contentType = "application/x-gob-loadstorm"

// writeFrame gob-encodes v and writes it as a 4-byte big-endian
// length-prefixed frame, the same length-prefixing idiom used for every
// other binary framing in this codebase's adjacent packages.
func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("rpc: encode: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("rpc: write body: %w", err)
	}
	return nil
}

// maxFrameBytes bounds a single decoded frame to guard against a
// malformed or hostile length prefix forcing an unbounded allocation.
const maxFrameBytes = 16 << 20

// readFrame reads one length-prefixed gob frame written by writeFrame.
func readFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return fmt.Errorf("rpc: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return fmt.Errorf("rpc: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("rpc: read body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("rpc: decode: %w", err)
	}
	return nil
}
