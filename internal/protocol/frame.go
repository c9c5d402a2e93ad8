package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single payload. Real commands are well under 1 KiB; the
// limit only protects against a corrupt length prefix.
const MaxFrameSize = 1 << 20

const frameHeaderSize = 4

// WriteFrame writes payload prefixed by its length as a little-endian uint32.
// Header and payload go out in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. The reader may deliver the bytes
// in chunks of any size. A stream that ends inside a frame yields an error
// wrapping io.ErrUnexpectedEOF; one that ends before the header yields io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// WriteCommand encodes c and writes it as one frame.
func WriteCommand(w io.Writer, c Command) error {
	payload, err := EncodeCommand(c)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// WriteResponse encodes r and writes it as one frame.
func WriteResponse(w io.Writer, r Response) error {
	payload, err := EncodeResponse(r)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadResponse reads one frame and decodes it as a Response.
func ReadResponse(r io.Reader) (Response, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}
