//go:build mage

// Package main provides build targets for bsort using Mage.
//
// Usage:
//
//	mage build      Compile bsort to bin/
//	mage test       Run all tests, including the OpenCV ones
//	mage testShort  Run tests that need no OpenCV Mats or camera
//	mage vet        Run go vet
//	mage clean      Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "bsort"
	binaryDir  = "bin"
	cmdDir     = "./cmd/bsort"
)

// Default target when mage is run without arguments.
var Default = Build

// Build compiles the bsort binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs every test.
func Test() error {
	return sh.RunV(binGo, "test", "./...")
}

// TestShort runs the tests that do not need OpenCV.
func TestShort() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.RunV(binGo, "vet", "./...")
}

// E2E builds bsort and runs the end-to-end tests against it.
func E2E() error {
	mg.Deps(Build)
	return sh.RunV(binGo, "test", "-v", "./e2e/...")
}

// Clean removes build artifacts.
func Clean() error {
	return os.RemoveAll(binaryDir)
}
