package synth

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/playpenhq/playpen/types"
)

func testOpts(t *testing.T) Options {
	t.Helper()
	return Options{
		BaseImage: "node:22-alpine",
		Port:      8080,
		OutDir:    filepath.Join(t.TempDir(), "ctx"),
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestSynthesize_Script(t *testing.T) {
	opts := testOpts(t)
	code := `'use strict'; module.exports = { init() {}, onAction() {} };`
	a := &types.Artifact{Kind: types.ArtifactScript, Name: "mygame.js", Data: []byte(code)}

	def, err := Synthesize(a, types.InstanceConfig{Name: "room", MaxPlayers: 4}, opts)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if def.ContextDir != opts.OutDir {
		t.Errorf("context dir %q != %q", def.ContextDir, opts.OutDir)
	}

	if got := mustRead(t, filepath.Join(opts.OutDir, "game.js")); got != code {
		t.Errorf("game.js was altered:\n%s", got)
	}

	scaffold := mustRead(t, filepath.Join(opts.OutDir, "server.js"))
	if strings.Contains(scaffold, code) {
		t.Error("user code must not be concatenated into the scaffold")
	}
	if !strings.Contains(scaffold, `require('./game')`) {
		t.Error("scaffold must load the payload as a module")
	}

	dockerfile := mustRead(t, filepath.Join(opts.OutDir, "Dockerfile"))
	if !strings.Contains(dockerfile, "FROM node:22-alpine") {
		t.Errorf("Dockerfile missing base image:\n%s", dockerfile)
	}
	if !strings.Contains(dockerfile, "EXPOSE 8080") {
		t.Errorf("Dockerfile missing port:\n%s", dockerfile)
	}

	if _, err := os.Stat(filepath.Join(opts.OutDir, "package.json")); err != nil {
		t.Errorf("package.json missing: %v", err)
	}
}

func TestSynthesize_Markup(t *testing.T) {
	opts := testOpts(t)
	doc := "<!doctype html><title>Room</title>"
	a := &types.Artifact{Kind: types.ArtifactMarkup, Name: "room.html", Data: []byte(doc)}

	if _, err := Synthesize(a, types.InstanceConfig{}, opts); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got := mustRead(t, filepath.Join(opts.OutDir, "index.html")); got != doc {
		t.Errorf("index.html was altered")
	}
	// Markup uploads still get a runnable game module.
	if got := mustRead(t, filepath.Join(opts.OutDir, "game.js")); !strings.Contains(got, "onAction") {
		t.Errorf("default markup module missing onAction:\n%s", got)
	}
	// The scaffold must actually serve the document it was given.
	if got := mustRead(t, filepath.Join(opts.OutDir, "server.js")); !strings.Contains(got, "index.html") {
		t.Errorf("scaffold server has no route for index.html")
	}
}

func TestSynthesize_Archive(t *testing.T) {
	opts := testOpts(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"game.js":     `'use strict'; module.exports = { init() {}, onAction() {} };`,
		"helpers.js":  `'use strict';`,
		"sub/evil.js": `ignored`,
	} {
		w, _ := zw.Create(name)
		_, _ = w.Write([]byte(content))
	}
	_ = zw.Close()

	a := &types.Artifact{Kind: types.ArtifactArchive, Name: "game.zip", Data: buf.Bytes()}
	if _, err := Synthesize(a, types.InstanceConfig{}, opts); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.OutDir, "helpers.js")); err != nil {
		t.Errorf("root-level archive file not unpacked: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.OutDir, "evil.js")); err == nil {
		t.Error("nested archive entries must be skipped")
	}
}

func TestSynthesize_ArchiveWithoutEntry(t *testing.T) {
	opts := testOpts(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("other.js")
	_, _ = w.Write([]byte("'use strict';"))
	_ = zw.Close()

	a := &types.Artifact{Kind: types.ArtifactArchive, Data: buf.Bytes()}
	if _, err := Synthesize(a, types.InstanceConfig{}, opts); !errors.Is(err, ErrNoScaffold) {
		t.Fatalf("expected ErrNoScaffold, got %v", err)
	}
}

func TestSynthesize_UnknownKind(t *testing.T) {
	opts := testOpts(t)
	a := &types.Artifact{Kind: types.ArtifactKind("binary"), Data: []byte{1}}
	if _, err := Synthesize(a, types.InstanceConfig{}, opts); !errors.Is(err, ErrNoScaffold) {
		t.Fatalf("expected ErrNoScaffold, got %v", err)
	}
}

func TestImageTag_Deterministic(t *testing.T) {
	a := &types.Artifact{Kind: types.ArtifactScript, Data: []byte("'use strict';")}
	b := &types.Artifact{Kind: types.ArtifactScript, Data: []byte("'use strict';")}
	if ImageTag(a) != ImageTag(b) {
		t.Error("identical content must map to identical tags")
	}
	c := &types.Artifact{Kind: types.ArtifactScript, Data: []byte("'use strict'; // v2")}
	if ImageTag(a) == ImageTag(c) {
		t.Error("different content must map to different tags")
	}
	if !strings.HasPrefix(ImageTag(a), "playpen/game:") {
		t.Errorf("unexpected tag %q", ImageTag(a))
	}
}
