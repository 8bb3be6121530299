package terminal

import (
	"fmt"
	"sync"
)

// FetchProgress reports repository fetches on a single rewritten line of
// the diagnostics stream. It stays silent when that stream is not a terminal.
type FetchProgress struct {
	terminal  *Terminal
	enabled   bool
	started   int
	completed int
	failed    int
	mutex     sync.Mutex
}

// NewFetchProgress creates a progress reporter. show=false disables output
// even on a terminal.
func (t *Terminal) NewFetchProgress(show bool) *FetchProgress {
	return &FetchProgress{
		terminal: t,
		enabled:  show && t.errTTY,
	}
}

// Started records a fetch that began
func (p *FetchProgress) Started(repository string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.started++
	p.render(repository)
}

// Completed records a fetch that finished, successfully or not
func (p *FetchProgress) Completed(repository string, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.completed++
	if err != nil {
		p.failed++
	}
	p.render(repository)
}

// Counts returns started, completed and failed fetches
func (p *FetchProgress) Counts() (started, completed, failed int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.started, p.completed, p.failed
}

// Finish terminates the progress line
func (p *FetchProgress) Finish() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.enabled && p.started > 0 {
		fmt.Fprintln(p.terminal.err)
	}
}

func (p *FetchProgress) render(repository string) {
	if !p.enabled {
		return
	}
	line := fmt.Sprintf("🔍 Fetching dependencies... [%d/%d]", p.completed, p.started)
	if p.failed > 0 {
		line += fmt.Sprintf(" (%d failed)", p.failed)
	}
	line += " - " + repository

	width := p.terminal.Width()
	if runes := []rune(line); len(runes) > width-1 {
		line = string(runes[:width-1])
	}
	// \033[K clears the remainder of a longer previous line
	fmt.Fprintf(p.terminal.err, "\r%s\033[K", line)
}
