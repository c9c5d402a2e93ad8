package protocol

import "errors"

var (
	// ErrDeserialize is returned (wrapped) when a payload cannot be decoded into a
	// known Command or Response.
	ErrDeserialize = errors.New("deserialize")

	// ErrUnsupported is returned when encoding a value that has no wire form,
	// such as a daemon-internal command.
	ErrUnsupported = errors.New("unsupported message")

	// ErrFrameTooLarge is returned when a frame length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrTargetOutOfRange is returned when a SingleTarget index does not name a
	// configured monitor.
	ErrTargetOutOfRange = errors.New("target out of range")
)
