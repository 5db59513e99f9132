//go:build tools

// Package tools pins the linter used on OrderDesk so its version is recorded
// in go.sum. Install it with:
//
//	go install github.com/golangci/golangci-lint/cmd/golangci-lint
//
// and run golangci-lint run ./... from the module root.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
