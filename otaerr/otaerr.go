/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otaerr defines the typed error kinds shared by the registry,
// controller, and HTTP layers of the file-deployment service.
package otaerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error categories surfaced to API callers.
type Kind string

// The error kinds recognized across the service.
const (
	AlreadyExists Kind = "ALREADY_EXISTS"
	NotFound      Kind = "NOT_FOUND"
	Validation    Kind = "VALIDATION"
	StorageError  Kind = "STORAGE_ERROR"
	UnknownJob    Kind = "UNKNOWN_JOB"
)

// Error wraps an underlying cause with one of the Kind values above.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf is like New but with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: errors.Wrap(err, msg)}
}

// Wrapf is like Wrap but with fmt.Sprintf-style formatting.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, msg: msg, err: errors.Wrap(err, msg)}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Kind, true
	}
	return "", false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
