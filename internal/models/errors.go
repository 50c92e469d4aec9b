package models

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrStorageFault means the local store could not complete an operation.
	// Callers must assume the write did not happen.
	ErrStorageFault = errors.New("storage fault")

	// ErrRemoteWriteRejected means the backend refused a specific record.
	ErrRemoteWriteRejected = errors.New("remote write rejected")

	// ErrRemoteUnreachable means the backend could not be reached.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrConflict is reserved for divergent remote state. Nothing emits it yet.
	ErrConflict = errors.New("conflict")

	ErrOffline         = errors.New("offline")
	ErrNoCurrentWorker = errors.New("no current worker")
	ErrDuplicateRecord = errors.New("duplicate record")
	ErrInvalidRecord   = errors.New("invalid record")
)

// StorageError wraps a fault from the durable local store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage fault: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFault
}

// NewStorageError wraps err unless it is nil or already a storage error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// APIError is the error body returned by a PostgREST-style backend.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// RemoteError describes a failed remote call. Kind is ErrRemoteWriteRejected
// or ErrRemoteUnreachable.
type RemoteError struct {
	Kind       error
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	return target == e.Kind
}

// Rejected builds a RemoteError for a backend refusal.
func Rejected(op string, status int, apiErr *APIError) *RemoteError {
	re := &RemoteError{
		Kind:       ErrRemoteWriteRejected,
		Op:         op,
		StatusCode: status,
	}
	if apiErr != nil {
		re.Code = apiErr.Code
		re.Message = apiErr.Message
		re.Err = apiErr
	}
	return re
}

// Unreachable builds a RemoteError for a network level failure.
func Unreachable(op string, err error) *RemoteError {
	return &RemoteError{
		Kind: ErrRemoteUnreachable,
		Op:   op,
		Err:  err,
	}
}

// IsRemote reports whether err came from a remote call.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemoteWriteRejected) || errors.Is(err, ErrRemoteUnreachable)
}
