// Package synth turns a validated artifact into a buildable instance
// definition: a materialized docker build context wrapping the user module
// in the fixed scaffold.
package synth

import (
	"archive/zip"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/opencontainers/go-digest"

	"github.com/playpenhq/playpen/types"
)

//go:embed scaffold
var scaffoldFS embed.FS

var ErrNoScaffold = errors.New("no scaffold for artifact kind")

// Options parameterize the rendered build context.
type Options struct {
	BaseImage string
	Port      int // container-side listen port
	OutDir    string
}

// ImageTag derives the isolation-image tag from the artifact content digest,
// so identical uploads reuse the same image name.
func ImageTag(a *types.Artifact) string {
	hex := digest.FromBytes(a.Data).Encoded()
	return "playpen/game:" + hex[:12]
}

// Synthesize materializes the build context for the artifact under
// opts.OutDir and returns the instance definition. The user payload is
// written as its own module file next to the scaffold, never concatenated
// into scaffold source.
func Synthesize(a *types.Artifact, cfg types.InstanceConfig, opts Options) (*types.Definition, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create build context: %w", err)
	}

	if err := writeScaffold(opts); err != nil {
		return nil, err
	}
	if err := writePayload(a, opts.OutDir); err != nil {
		return nil, err
	}

	return &types.Definition{
		Config:     cfg,
		ContextDir: opts.OutDir,
		ImageTag:   ImageTag(a),
	}, nil
}

func writeScaffold(opts Options) error {
	for _, name := range []string{"server.js", "package.json"} {
		data, err := scaffoldFS.ReadFile("scaffold/" + name)
		if err != nil {
			return fmt.Errorf("read scaffold %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(opts.OutDir, name), data, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("write scaffold %s: %w", name, err)
		}
	}

	tmplData, err := scaffoldFS.ReadFile("scaffold/Dockerfile.tmpl")
	if err != nil {
		return fmt.Errorf("read Dockerfile template: %w", err)
	}
	tmpl, err := template.New("dockerfile").Parse(string(tmplData))
	if err != nil {
		return fmt.Errorf("parse Dockerfile template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return fmt.Errorf("render Dockerfile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.OutDir, "Dockerfile"), buf.Bytes(), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write Dockerfile: %w", err)
	}
	return nil
}

// writePayload places the user module into the context according to kind:
//   - script:  the upload becomes game.js verbatim
//   - markup:  the document is served as index.html, game.js is the builtin
//     shared-board module
//   - archive: every root-level file is unpacked; game.js must be present
func writePayload(a *types.Artifact, dir string) error {
	switch a.Kind {
	case types.ArtifactScript:
		return os.WriteFile(filepath.Join(dir, "game.js"), a.Data, 0o644) //nolint:gosec

	case types.ArtifactMarkup:
		if err := os.WriteFile(filepath.Join(dir, "index.html"), a.Data, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("write index.html: %w", err)
		}
		mod, err := scaffoldFS.ReadFile("scaffold/markup_game.js")
		if err != nil {
			return fmt.Errorf("read markup module: %w", err)
		}
		return os.WriteFile(filepath.Join(dir, "game.js"), mod, 0o644) //nolint:gosec

	case types.ArtifactArchive:
		return unpackArchive(a.Data, dir)

	default:
		return fmt.Errorf("%w: %q", ErrNoScaffold, a.Kind)
	}
}

func unpackArchive(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: not a zip archive", ErrNoScaffold)
	}
	hasEntry := false
	for _, f := range zr.File {
		// Flat unpack: nested paths and traversal attempts are skipped.
		if f.FileInfo().IsDir() || strings.ContainsAny(f.Name, "/\\") {
			continue
		}
		if f.Name == "game.js" {
			hasEntry = true
		}
		if err := extractFile(f, filepath.Join(dir, f.Name)); err != nil {
			return err
		}
	}
	if !hasEntry {
		return fmt.Errorf("%w: archive has no game.js entry point", ErrNoScaffold)
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return os.WriteFile(dst, data, 0o644) //nolint:gosec
}
