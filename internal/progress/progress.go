// Package progress renders live console progress for long-running export
// operations.
package progress

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

var theme = progressbar.Theme{
	Saucer:        "[green]=[reset]",
	SaucerHead:    "[green]>[reset]",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

// PercentageBar returns a 0-100 progress bar writing to stdout.
func PercentageBar(task string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(100,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetDescription(task),
		progressbar.OptionSetTheme(theme),
	)
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// ExportRelay feeds VBoxManage export progress ticks ("0%...10%...20%...")
// into a percentage bar. Lines without a percentage are ignored; the caller
// is expected to log them separately.
type ExportRelay struct {
	bar *progressbar.ProgressBar
}

func NewExportRelay(task string) *ExportRelay {
	return &ExportRelay{bar: PercentageBar(task)}
}

// Line consumes one line of export output.
func (r *ExportRelay) Line(line string) {
	if pct, ok := parsePercent(line); ok {
		r.bar.Set(pct)
	}
}

// parsePercent extracts the completion percentage from an export output
// line. The last percentage wins, since VBoxManage packs several ticks into
// a single CR-terminated update.
func parsePercent(line string) (int, bool) {
	matches := percentRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	pct, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// Finish forces the bar to completion once the export has succeeded.
func (r *ExportRelay) Finish() {
	r.bar.Set(100)
}
