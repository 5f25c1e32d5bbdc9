//go:build tools
// +build tools

// Package tools declares tool dependencies for this module.
//
// These imports are not used at runtime. They keep mockgen, invoked through
// `go generate` in contract/, tracked in go.mod so a fresh checkout can
// regenerate the mocks without a "missing go.sum entry" error.
package local_language

import (
	_ "go.uber.org/mock/mockgen"
)
