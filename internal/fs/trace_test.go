package fs_test

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	mfs "github.com/open-policy-agent/merge-into-file/internal/fs"
	"github.com/open-policy-agent/merge-into-file/internal/logging"
)

func TestTraceFS(t *testing.T) {
	src := mfs.MapFS(map[string]string{"js/a.js": "var a;"})

	if fsys := mfs.NewTraceFS(src, logging.NewNoOpLogger()); fsys == nil {
		t.Fatal("expected a file system")
	} else if _, ok := fsys.(*mfs.TraceFS); ok {
		t.Fatal("expected no tracing without debug logging")
	}

	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON, Output: &buf})
	fsys := mfs.NewTraceFS(src, logger)

	bs, err := fs.ReadFile(fsys, "js/a.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "var a;" {
		t.Fatalf("unexpected content %q", bs)
	}
	if _, err := fsys.Open("missing.js"); err == nil {
		t.Fatal("expected error")
	}

	for _, s := range []string{"Open(js/a.js) => a.js size=6", "Open(missing.js)"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("expected log to contain %q:\n%s", s, buf.String())
		}
	}
}
