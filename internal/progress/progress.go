package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar counts finished merges. A nil *Bar is valid and prints nothing.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(w io.Writer, total int, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
