package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/0xmhha/starknet-hive/internal/log"
)

// New returns a bar counting up to max steps on w.
func New(w io.Writer, max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// Add increments the progress bar while safely handling errors.
func Add(bar *progressbar.ProgressBar, n int, l log.Logger) {
	if bar == nil || n == 0 {
		return
	}

	if err := bar.Add(n); err != nil {
		l.Warnw("Failed to update progress bar", "err", err)
	}
}

// Finish completes the bar so the next output starts on a clean line.
func Finish(bar *progressbar.ProgressBar, l log.Logger) {
	if bar == nil {
		return
	}
	if err := bar.Finish(); err != nil {
		l.Warnw("Failed to finish progress bar", "err", err)
	}
}
