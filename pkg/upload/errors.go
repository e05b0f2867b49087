// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"net/http"
)

// ErrorCode represents upload and asset-guard error types
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeUploadInProgress
	ErrCodeUploadNotInProgress
	ErrCodeInvalidParts
	ErrCodeInvalidArgument
	ErrCodeAssetNotFound
	ErrCodeStorageUnavailable
	ErrCodeInternalError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "None"
	case ErrCodeUploadInProgress:
		return "UploadInProgress"
	case ErrCodeUploadNotInProgress:
		return "UploadNotInProgress"
	case ErrCodeInvalidParts:
		return "InvalidParts"
	case ErrCodeInvalidArgument:
		return "InvalidArgument"
	case ErrCodeAssetNotFound:
		return "AssetNotFound"
	case ErrCodeStorageUnavailable:
		return "StorageUnavailable"
	default:
		return "InternalError"
	}
}

// Error represents an upload service error. Field names the offending
// request field for validation errors.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error to the status the API layer should return.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeUploadInProgress, ErrCodeUploadNotInProgress:
		return http.StatusConflict
	case ErrCodeInvalidParts, ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeAssetNotFound:
		return http.StatusNotFound
	case ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	return e.Code == ErrCodeStorageUnavailable
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeNone.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeNone
}

// UploadInProgressError is returned when an asset already has an active
// upload session, for a second start or for a delete attempt.
func UploadInProgressError(uploadID string) *Error {
	msg := "an upload is in progress"
	if uploadID != "" {
		msg = "upload " + uploadID + " is in progress"
	}
	return &Error{Code: ErrCodeUploadInProgress, Message: msg}
}

// UploadNotInProgressError is returned when a session does not exist or is
// no longer active.
func UploadNotInProgressError(uploadID string) *Error {
	msg := "no upload is in progress"
	if uploadID != "" {
		msg = "upload " + uploadID + " is not in progress"
	}
	return &Error{Code: ErrCodeUploadNotInProgress, Message: msg}
}

// ValidationError reports a bad value for field.
func ValidationError(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Message: message,
		Field:   field,
	}
}

func partsError(message string, err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidParts,
		Message: message,
		Field:   "parts",
		Err:     err,
	}
}

func storageError(message string, err error) *Error {
	return &Error{
		Code:    ErrCodeStorageUnavailable,
		Message: message,
		Err:     err,
	}
}

func internalError(message string, err error) *Error {
	return &Error{
		Code:    ErrCodeInternalError,
		Message: message,
		Err:     err,
	}
}
