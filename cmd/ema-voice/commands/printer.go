package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	userLabel    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fafff")).Render("USER:")
	aiLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")).Render("AI:")
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	noticeStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#d7af00"))
)

const clearLine = "\r\033[K"

// printer writes the conversation transcript. Callbacks arrive from the
// frame pump and from turn goroutines, so writes are serialized.
type printer struct {
	mu          sync.Mutex
	out         io.Writer
	width       int
	showPartial bool
	partial     bool
}

func newPrinter(out io.Writer, width int, showPartial bool) *printer {
	return &printer{out: out, width: width, showPartial: showPartial}
}

func (p *printer) Partial(text string) {
	if !p.showPartial {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		if p.partial {
			fmt.Fprint(p.out, clearLine)
			p.partial = false
		}
		return
	}
	// Keep the tail, it is the part that is changing.
	runes := []rune(text)
	if p.width > 3 && len(runes)+2 > p.width {
		runes = runes[len(runes)-(p.width-2):]
	}
	fmt.Fprint(p.out, clearLine+partialStyle.Render("… "+string(runes)))
	p.partial = true
}

func (p *printer) User(text string)      { p.line(userLabel, text) }
func (p *printer) Assistant(text string) { p.line(aiLabel, text) }
func (p *printer) Notice(text string)    { p.line("", noticeStyle.Render(text)) }

func (p *printer) line(label, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.partial {
		fmt.Fprint(p.out, clearLine)
		p.partial = false
	}
	if label != "" {
		text = label + " " + text
	}
	if p.width > 0 {
		text = wordwrap.String(text, p.width)
	}
	fmt.Fprintln(p.out, text)
}
