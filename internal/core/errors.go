package core

import (
	"errors"
	"fmt"
)

// Business errors.
var (
	// Device errors.
	ErrDeviceNotFound = errors.New("device not found")

	// Firmware errors.
	ErrFirmwareNotFound      = errors.New("firmware release not found")
	ErrFirmwareAlreadyExists = errors.New("firmware version already exists")

	// Update attempt errors.
	ErrUnknownAttempt    = errors.New("no update attempt to advance")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid update status")

	// Policy errors.
	ErrPolicyNotFound = errors.New("rollout policy not found")
)

// BusinessError represents a business logic error with a code.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
