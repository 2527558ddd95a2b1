package main

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"grawlix/internal/fetch"
)

// progressRenderer owns the terminal progress bar for the book currently
// downloading. Events arrive from a single drainer goroutine while bars
// are swapped from the command goroutine, hence the mutex.
type progressRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	enabled := false
	if file, ok := out.(*os.File); ok {
		fd := file.Fd()
		enabled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &progressRenderer{out: out, enabled: enabled}
}

// StartBook begins a fresh bar for the named book.
func (p *progressRenderer) StartBook(title string, units int) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
	p.bar = progressbar.NewOptions(units,
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Sink adapts the renderer to the fetch progress callback.
func (p *progressRenderer) Sink(event fetch.Event) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	p.bar.ChangeMax(event.Total)
	_ = p.bar.Set(event.Completed)
}

// Finish clears any active bar.
func (p *progressRenderer) Finish() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressRenderer) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
