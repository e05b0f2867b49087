// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package env records which deployment environment the process runs in.
package env

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var Env = Local

// Load reads the "env" key from viper. It must run after the configuration
// file was merged so file values and ENV overrides are both seen.
func Load() string {
	Env = strings.ToLower(strings.TrimSpace(viper.GetString("env")))
	switch Env {
	case Local, Production, Testing:
	default:
		Env = Local
	}
	return Env
}

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}
