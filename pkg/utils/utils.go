// pkg/utils/utils.go

package utils

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n uint64) string {
	return humanize.IBytes(n)
}

// NewProgressBar init a progress bar with a known total, the title will appears at the head of the progress bar
func NewProgressBar(title string, total int64, quiet bool) (*mpb.Progress, *mpb.Bar) {
	var progress *mpb.Progress
	if !quiet && isatty.IsTerminal(os.Stdout.Fd()) {
		progress = mpb.New(mpb.WithWidth(64))
	} else {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(nil))
	}
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
		),
	)
	return progress, bar
}
