package window

import "errors"

var (
	ErrOutOfMemory     = errors.New("out of memory")
	ErrBufferCeiling   = errors.New("sample buffer reached its capacity ceiling")
	ErrMalformedWindow = errors.New("malformed window")
	ErrUnknownWindow   = errors.New("unknown window")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnorderedSource = errors.New("row source yielded an out-of-order timestamp")
	ErrCursorClosed    = errors.New("cursor is closed")
)
