package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the capture pipeline. Callers distinguish failure
// modes with errors.Is.
var (
	ErrGrantDenied       = errors.New("capture: grant denied")
	ErrGrantRevoked      = errors.New("capture: grant revoked")
	ErrEncoderInit       = errors.New("capture: encoder init failed")
	ErrCropOutOfBounds   = errors.New("capture: crop dimensions are out of bounds")
	ErrContainerNotReady = errors.New("capture: container not started")
	ErrSocket            = errors.New("capture: socket error")
	ErrMuxerFinalize     = errors.New("capture: muxer finalize failed")
	ErrBusy              = errors.New("capture: session busy")
	ErrInvalidConfig     = errors.New("capture: invalid configuration")
	ErrInvalidFrame      = errors.New("capture: invalid frame")
)

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	Op    string
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
