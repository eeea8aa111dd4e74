package download

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar renders a page counter on w.
func NewProgressBar(total int, w io.Writer) Progress {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("downloading pages"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
}
