// Package util provides logging helpers and the common error types shared
// by every orchestrator component.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used to classify failures across component boundaries.
// Callers test with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoGraphFound       = errors.New("graph not found")
	ErrGraphInvalid       = errors.New("invalid graph")
	ErrUselessInfo        = errors.New("unsupported data in request")
	ErrNoPath             = errors.New("no path between endpoints")
	ErrCapabilityMissing  = errors.New("capability not offered by this domain")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrController         = errors.New("network controller error")
	ErrStorage            = errors.New("storage error")
	ErrMessaging          = errors.New("domain description publish failed")
	ErrUnauthorized       = errors.New("authentication required")
	ErrSwitchLocked       = errors.New("switch locked by another session")
	ErrNotFound           = errors.New("resource not found")
	ErrValidationFailed   = errors.New("validation failed")
)

// GraphError reports a graph that cannot be realised as submitted:
// flow collisions, invalid egress, overlapping endpoints, exhausted VLANs.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string {
	return e.Message
}

func (e *GraphError) Unwrap() error {
	return ErrGraphInvalid
}

// NewGraphError creates a graph error from a format string
func NewGraphError(format string, args ...interface{}) *GraphError {
	return &GraphError{Message: fmt.Sprintf(format, args...)}
}

// UselessInfoError reports request content this orchestrator does not process.
type UselessInfoError struct {
	Message string
}

func (e *UselessInfoError) Error() string {
	return e.Message + ". This domain orchestrator does not process this kind of data"
}

func (e *UselessInfoError) Unwrap() error {
	return ErrUselessInfo
}

// NewUselessInfoError creates a useless-info error from a format string
func NewUselessInfoError(format string, args ...interface{}) *UselessInfoError {
	return &UselessInfoError{Message: fmt.Sprintf(format, args...)}
}

// NoPathError reports an unreachable endpoint pair.
type NoPathError struct {
	Src string
	Dst string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("cannot find links between %s and %s", e.Src, e.Dst)
}

func (e *NoPathError) Unwrap() error {
	return ErrNoPath
}

// CapabilityError reports a VNF whose functional capability the domain
// does not offer.
type CapabilityError struct {
	Vnf        string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("VNF %q with functional capability %q cannot be implemented on this domain", e.Vnf, e.Capability)
}

func (e *CapabilityError) Unwrap() error {
	return ErrCapabilityMissing
}

// ControllerError reports a non-2xx answer from the network controller.
type ControllerError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *ControllerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("controller %s returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("controller %s returned status %d: %s", e.Operation, e.StatusCode, e.Detail)
}

func (e *ControllerError) Unwrap() error {
	return ErrController
}

// IsControllerNotFound reports whether err is a controller 404. Deletes
// treat it as success so removal stays idempotent.
func IsControllerNotFound(err error) bool {
	var ce *ControllerError
	return errors.As(err, &ce) && ce.StatusCode == 404
}

// StorageError reports a failed store transaction.
type StorageError struct {
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}

// NewStorageError wraps err with the failing store operation name
func NewStorageError(operation string, err error) *StorageError {
	return &StorageError{Operation: operation, Err: err}
}

// MessagingError reports a failed domain-description publish. Realisations
// are never rolled back for it; callers log and continue.
type MessagingError struct {
	Err error
}

func (e *MessagingError) Error() string {
	return fmt.Sprintf("publishing domain description: %v", e.Err)
}

func (e *MessagingError) Unwrap() error {
	return ErrMessaging
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
