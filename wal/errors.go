package wal

import "errors"

// Sentinel errors returned by the record codec, segment, and log.
//
// Record-level corruption (ErrCorruptChecksum, ErrUnknownOperation, and
// ErrMalformed arising from a bad body) is recovered locally by the reader:
// the offending record is skipped and counted, because the length prefix
// that precedes every frame already locates the next one regardless of
// what's inside this one. Iteration only stops on a frame that cannot be
// located at all — a short length-prefix read or a short body read, both
// signs of a truncated tail rather than recoverable corruption.
var (
	ErrMalformed        = errors.New("wal: malformed record frame")
	ErrCorruptChecksum  = errors.New("wal: checksum mismatch")
	ErrUnknownOperation = errors.New("wal: unknown operation tag")
	ErrMessageTooLarge  = errors.New("wal: encoded record exceeds maximum size")
	ErrIO               = errors.New("wal: io error")
)
