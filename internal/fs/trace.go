package fs

import (
	"io/fs"

	"github.com/open-policy-agent/merge-into-file/internal/logging"
)

// TraceFS logs every Open on its logger at debug level.
type TraceFS struct {
	fsys fs.FS
	log  *logging.Logger
}

// NewTraceFS wraps fsys if logger writes debug entries, and returns fsys
// otherwise.
func NewTraceFS(fsys fs.FS, logger *logging.Logger) fs.FS {
	if !logger.Enabled(logging.LevelDebug) {
		return fsys
	}
	return &TraceFS{fsys: fsys, log: logger}
}

func (t *TraceFS) Open(p string) (fs.File, error) {
	f, err := t.fsys.Open(p)
	if err != nil {
		t.log.Debugf("Open(%s) => %v", p, err)
		return nil, err
	}

	fi, err := f.Stat()
	switch {
	case err != nil:
		t.log.Debugf("Open(%s) => stat: %v", p, err)
	case fi.IsDir():
		t.log.Debugf("Open(%s) => %v dir", p, fi.Name())
	default:
		t.log.Debugf("Open(%s) => %v size=%d", p, fi.Name(), fi.Size())
	}
	return f, nil
}
