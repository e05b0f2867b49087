// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by S3 and MinIO responses.
const (
	codeNoSuchUpload       = "NoSuchUpload"
	codeNoSuchKey          = "NoSuchKey"
	codeNotFound           = "NotFound"
	codeInvalidPart        = "InvalidPart"
	codeInvalidPartOrder   = "InvalidPartOrder"
	codeEntityTooSmall     = "EntityTooSmall"
	codeMalformedXML       = "MalformedXML"
	codeSlowDown           = "SlowDown"
	codeServiceUnavailable = "ServiceUnavailable"
	codeInternalError      = "InternalError"
	codeRequestTimeout     = "RequestTimeout"
	codeThrottling         = "Throttling"
	codeRequestTimeTooSkew = "RequestTimeTooSkewed"
)

// classify maps a backend error code and HTTP status to a sentinel. It
// returns nil for errors that are neither transient nor part of the
// gateway contract (access denied, bad credentials).
func classify(code string, status int) error {
	switch code {
	case codeNoSuchUpload:
		return ErrUploadNotFound
	case codeNoSuchKey, codeNotFound:
		return ErrObjectNotFound
	case codeInvalidPart, codeInvalidPartOrder, codeEntityTooSmall, codeMalformedXML:
		return ErrInvalidParts
	case codeSlowDown, codeServiceUnavailable, codeInternalError, codeRequestTimeout,
		codeThrottling, codeRequestTimeTooSkew:
		return ErrStorageUnavailable
	}
	switch {
	case status == http.StatusNotFound:
		return ErrObjectNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrStorageUnavailable
	}
	return nil
}

// wrapErr attaches op and the classified sentinel to err.
func wrapErr(op string, err error, sentinel error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sentinel == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// errCompletedUploadGone is returned when completing an upload id the
// backend no longer knows. It matches ErrInvalidParts and ErrUploadNotFound.
var errCompletedUploadGone = fmt.Errorf("%w: %w", ErrInvalidParts, ErrUploadNotFound)

// completionErr narrows a CompleteMultipart failure: every rejection of the
// part list, including an unknown upload id, is ErrInvalidParts.
func completionErr(sentinel error) error {
	if errors.Is(sentinel, ErrUploadNotFound) {
		return errCompletedUploadGone
	}
	return sentinel
}
