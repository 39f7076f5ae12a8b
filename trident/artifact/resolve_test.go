package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveInputSource(t *testing.T) {
	root := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("relative path", func(t *testing.T) {
		write("inputs.json", `{"topic": "tides"}`)
		inputs, err := ResolveInputSource("inputs.json", root)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if inputs["topic"] != "tides" {
			t.Errorf("inputs = %v", inputs)
		}
	})

	t.Run("run form", func(t *testing.T) {
		write(filepath.Join(DefaultBaseDirName, "runs", "run-9", "outputs.json"), `{"report": "done"}`)
		inputs, err := ResolveInputSource("run:run-9", root)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if inputs["report"] != "done" {
			t.Errorf("inputs = %v", inputs)
		}
	})

	t.Run("alias form", func(t *testing.T) {
		write(filepath.Join(DefaultBaseDirName, "outputs", "latest.json"), `{"report": "aliased"}`)
		inputs, err := ResolveInputSource("alias:latest", root)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if inputs["report"] != "aliased" {
			t.Errorf("inputs = %v", inputs)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ResolveInputSource("run:ghost", root); err == nil {
			t.Fatal("expected error for missing outputs")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		write("bad.json", "{nope")
		if _, err := ResolveInputSource("bad.json", root); err == nil {
			t.Fatal("expected parse error")
		}
	})
}
