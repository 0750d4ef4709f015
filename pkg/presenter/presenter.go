// Package presenter writes human-facing CLI output for skilldeck: status
// lines, section headers, tables and interactive questions.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

// Presenter is the output surface commands and prompters write to.
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Choose(question string, choices ...string) string
	Confirm(question string) bool
	Table(headers []string, rows [][]string)
}

// ColorMode selects whether output is colored.
type ColorMode int

const (
	// ColorAuto lets the color package detect terminal capabilities
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	promptStyle  = color.New(color.FgCyan)
	headerStyle  = color.New(color.Bold)
)

// TerminalPresenter implements Presenter for a terminal.
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       *bufio.Reader
	colorMode   ColorMode
	quiet       bool
}

// New returns a presenter on stdout/stderr with the color mode taken from
// NO_COLOR and SKILLDECK_COLOR.
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions returns a presenter writing to the given streams.
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		input:       bufio.NewReader(os.Stdin),
		colorMode:   colorMode,
	}
}

// WithInput replaces the reader questions are answered from.
func (p *TerminalPresenter) WithInput(r io.Reader) *TerminalPresenter {
	p.input = bufio.NewReader(r)
	return p
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLDECK_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error writes err to the error stream. Errors ignore quiet mode.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	if context != "" {
		errorStyle.Fprintf(p.errorOutput, "✗ %s: %v\n", context, err)
		return
	}
	errorStyle.Fprintf(p.errorOutput, "✗ %v\n", err)
}

func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	successStyle.Fprintf(p.output, "✓ %s\n", message)
}

func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	warningStyle.Fprintf(p.output, "⚠ %s\n", message)
}

func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, message)
}

// Section prints title underlined to its own width.
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}
	headerStyle.Fprintf(p.output, "%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// ask prints question and returns one trimmed line of input. A closed input
// answers with the empty string.
func (p *TerminalPresenter) ask(question string) string {
	promptStyle.Fprint(p.output, question)
	line, err := p.input.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

// Choose lists choices under question and returns the one picked by number or
// by name, case-insensitively. Anything else, including an empty line,
// returns "".
func (p *TerminalPresenter) Choose(question string, choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	promptStyle.Fprintln(p.output, question)
	for i, c := range choices {
		fmt.Fprintf(p.output, "  %d) %s\n", i+1, c)
	}

	answer := p.ask("> ")
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(choices) {
			return choices[n-1]
		}
		return ""
	}
	for _, c := range choices {
		if strings.EqualFold(answer, c) {
			return c
		}
	}
	return ""
}

// Confirm asks a yes/no question. Only y or yes answers yes.
func (p *TerminalPresenter) Confirm(question string) bool {
	switch strings.ToLower(p.ask(question + " [y/N]: ")) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Table renders rows under a header row. Tables are command output and are
// printed even in quiet mode.
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	head := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return head
			}
			return cell
		})

	fmt.Fprintln(p.output, t.Render())
}

// SetQuiet suppresses status messages. Errors, questions and tables are
// still written.
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Default returns the process-wide presenter.
func Default() *TerminalPresenter {
	return defaultPresenter
}

// Error reports err through the process-wide presenter.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}
