// Package analyzer performs pattern-based static triage of uploaded game
// artifacts. The triage is heuristic; the container isolation enforced by
// the orchestrator is the actual security boundary.
package analyzer

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/playpenhq/playpen/types"
)

// EntryFile is the module an archive artifact must provide at its root.
const EntryFile = "game.js"

var ErrInvalidArtifact = errors.New("invalid artifact")

// Report is the outcome of analyzing one artifact. Accepted is false iff
// at least one high-severity finding exists; all findings are returned
// either way.
type Report struct {
	Accepted bool            `json:"accepted"`
	Findings []types.Finding `json:"findings"`
}

// Analyze extracts the source text of the artifact and runs the triage
// pattern set against it.
func Analyze(a *types.Artifact, maxBytes int64) (*Report, error) {
	if int64(len(a.Data)) > maxBytes {
		return nil, fmt.Errorf("%w: artifact is %d bytes, limit %d", ErrInvalidArtifact, len(a.Data), maxBytes)
	}
	if len(a.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidArtifact)
	}

	source, err := extractSource(a)
	if err != nil {
		return nil, err
	}

	report := &Report{Accepted: true}
	lines := strings.Split(source, "\n")
	for _, p := range patterns {
		for _, f := range matchPattern(p, source, lines) {
			report.Findings = append(report.Findings, f)
			if f.Severity == types.SeverityHigh {
				report.Accepted = false
			}
		}
	}
	return report, nil
}

// extractSource returns the scannable text of the artifact. For archives the
// designated entry file must exist at the archive root.
func extractSource(a *types.Artifact) (string, error) {
	switch a.Kind {
	case types.ArtifactScript, types.ArtifactMarkup:
		return string(a.Data), nil
	case types.ArtifactArchive:
		return extractArchiveEntry(a.Data)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}
}

func extractArchiveEntry(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a zip archive: %v", ErrInvalidArtifact, err)
	}
	for _, f := range zr.File {
		if f.Name != EntryFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open %s: %v", ErrInvalidArtifact, EntryFile, err)
		}
		defer rc.Close() //nolint:errcheck
		src, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %v", ErrInvalidArtifact, EntryFile, err)
		}
		return string(src), nil
	}
	return "", fmt.Errorf("%w: archive has no %s at its root", ErrInvalidArtifact, EntryFile)
}

// matchPattern scans source for one pattern. Line-oriented patterns report
// the first matching line per occurrence line; the use-strict pattern is a
// whole-text presence check.
func matchPattern(p pattern, source string, lines []string) []types.Finding {
	if p.re == nil {
		// 'use strict' robustness check: absence is the finding.
		if strings.Contains(source, "'use strict'") || strings.Contains(source, `"use strict"`) {
			return nil
		}
		return []types.Finding{{Pattern: p.id, Severity: p.severity, Message: p.message}}
	}

	var findings []types.Finding
	for i, line := range lines {
		if p.re.MatchString(line) {
			findings = append(findings, types.Finding{
				Pattern:  p.id,
				Severity: p.severity,
				Message:  p.message,
				Line:     i + 1,
			})
		}
	}
	return findings
}
