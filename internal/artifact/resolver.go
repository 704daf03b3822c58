// Package artifact locates exported model artifacts on disk.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Tier ranks an artifact format. Within one directory an optimized export
// is preferred over the standard checkpoint.
type Tier string

const (
	// TierOptimized is a hardware-oriented export (e.g. an OpenVINO model directory).
	TierOptimized Tier = "optimized"
	// TierStandard is the unconverted training checkpoint.
	TierStandard Tier = "standard"
)

// Default artifact naming used by the Ultralytics trainer.
const (
	DefaultOptimizedPattern = "*openvino*"
	DefaultStandardName     = "best.pt"
)

// Candidate is a resolved artifact path and its tier.
type Candidate struct {
	Path string
	Tier Tier
}

// Formats describes how artifacts are recognised inside a weights directory.
type Formats struct {
	// OptimizedPattern is a glob matched against entries of the directory.
	OptimizedPattern string
	// StandardName is the exact file name of the standard checkpoint.
	StandardName string
}

// DefaultFormats returns the naming produced by a default training run.
func DefaultFormats() Formats {
	return Formats{
		OptimizedPattern: DefaultOptimizedPattern,
		StandardName:     DefaultStandardName,
	}
}

// Resolver searches an ordered list of weights directories for a model
// artifact. It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	formats Formats
	legacy  []string
}

// NewResolver creates a Resolver. legacyDirs are searched, in order, after
// the weights directory of the current experiment.
func NewResolver(formats Formats, legacyDirs []string) *Resolver {
	if formats.OptimizedPattern == "" {
		formats.OptimizedPattern = DefaultOptimizedPattern
	}
	if formats.StandardName == "" {
		formats.StandardName = DefaultStandardName
	}

	legacy := make([]string, len(legacyDirs))
	copy(legacy, legacyDirs)

	return &Resolver{
		formats: formats,
		legacy:  legacy,
	}
}

// Formats returns the artifact naming the resolver matches against.
func (r *Resolver) Formats() Formats {
	return r.formats
}

// Candidates returns the directories searched for the given experiment, in
// priority order: baseDir/experiment/weights first, then the legacy list.
func (r *Resolver) Candidates(baseDir, experiment string) []string {
	dirs := make([]string, 0, len(r.legacy)+1)
	dirs = append(dirs, WeightsDir(baseDir, experiment))
	dirs = append(dirs, r.legacy...)
	return dirs
}

// Resolve returns the first artifact found. Directory order is the outer
// loop and format priority the inner loop: an optimized export in a later
// directory never wins over a standard checkpoint in an earlier one.
// The boolean is false when no directory holds an artifact.
func (r *Resolver) Resolve(baseDir, experiment string) (Candidate, bool) {
	for _, dir := range r.Candidates(baseDir, experiment) {
		if path, ok := r.findOptimized(dir); ok {
			return Candidate{Path: path, Tier: TierOptimized}, true
		}
		if path, ok := r.findStandard(dir); ok {
			return Candidate{Path: path, Tier: TierStandard}, true
		}
	}
	return Candidate{}, false
}

// ResolveStandard returns the first standard checkpoint in directory order,
// ignoring optimized exports. Exports are always produced from it.
func (r *Resolver) ResolveStandard(baseDir, experiment string) (Candidate, bool) {
	for _, dir := range r.Candidates(baseDir, experiment) {
		if path, ok := r.findStandard(dir); ok {
			return Candidate{Path: path, Tier: TierStandard}, true
		}
	}
	return Candidate{}, false
}

func (r *Resolver) findOptimized(dir string) (string, bool) {
	matches, err := Glob(dir, r.formats.OptimizedPattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (r *Resolver) findStandard(dir string) (string, bool) {
	path := filepath.Join(dir, r.formats.StandardName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// WeightsDir returns the weights directory of a training run.
func WeightsDir(baseDir, experiment string) string {
	return filepath.Join(baseDir, experiment, "weights")
}

// Prune removes optimized exports matching pattern from dir so that a new
// export does not sit next to a stale one. A missing dir is not an error.
func Prune(dir, pattern string) ([]string, error) {
	matches, err := Glob(dir, pattern)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return removed, fmt.Errorf("remove %s: %w", m, err)
		}
		removed = append(removed, m)
	}
	return removed, nil
}

// Glob returns the entries of dir whose names match pattern, sorted. Only
// the pattern is interpreted, so dir may contain glob metacharacters. A
// missing dir yields no matches.
func Glob(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad artifact pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	return matches, nil
}
