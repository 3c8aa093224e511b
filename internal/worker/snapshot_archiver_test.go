package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalUploaderWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	up := &localUploader{baseDir: dir}

	loc, err := up.Upload(context.Background(), "2026/08/31/pipeline-120000.json", []byte(`{"ok":true}`), "application/json")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	want := filepath.Join(dir, "2026", "08", "31", "pipeline-120000.json")
	if loc != want {
		t.Fatalf("location = %s, want %s", loc, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected contents: %s", data)
	}
}

func TestSanitizeKeyStripsTraversal(t *testing.T) {
	cases := map[string]string{
		"/abs/key.json":      "abs/key.json",
		"./rel/key.json":     "rel/key.json",
		"a/../../etc/passwd": "etc/passwd",
		"plain.json":         "plain.json",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
