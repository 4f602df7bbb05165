package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// StageProgress shows a bar that advances once per named stage.
type StageProgress struct {
	bar     *progressbar.ProgressBar
	started bool
}

// NewStageProgress creates a bar for total stages written to w.
func NewStageProgress(w io.Writer, total int, description string) *StageProgress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &StageProgress{bar: bar}
}

// Stage marks the previous stage done and names the one starting.
func (p *StageProgress) Stage(name string) {
	if p.started {
		p.advance()
	}
	p.started = true
	p.bar.Describe(fmt.Sprintf("[cyan][bold]%s...[reset]", name))
}

// Finish completes the bar.
func (p *StageProgress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

func (p *StageProgress) advance() {
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}
