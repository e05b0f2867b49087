// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("env", nil)
		Env = Local
	})

	tests := []struct {
		value string
		want  string
	}{
		{value: "", want: Local},
		{value: "production", want: Production},
		{value: " Testing ", want: Testing},
		{value: "staging", want: Local},
	}
	for _, tt := range tests {
		viper.Set("env", tt.value)
		assert.Equal(t, tt.want, Load(), tt.value)
	}

	viper.Set("env", "production")
	Load()
	assert.True(t, IsProduction())
	assert.False(t, IsLocal())
	assert.False(t, IsTesting())
}
