//go:build tools
// +build tools

// Package tools pins the code generators used by go:generate so that
// go.mod and go.sum stay in sync on a fresh checkout.
package chathub

import (
	_ "go.uber.org/mock/mockgen"
)
