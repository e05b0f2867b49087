// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCtx_FallsBackToGlobal(t *testing.T) {
	assert.Same(t, &globalLogger, Ctx(context.Background()))
	//nolint:staticcheck // nil context is accepted
	assert.Same(t, &globalLogger, Ctx(nil))

	l := zerolog.Nop()
	ctx := WithLogger(context.Background(), &l)
	assert.Same(t, &l, Ctx(ctx))
}
