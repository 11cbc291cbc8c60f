// Package tui provides a terminal user interface for cseq2midi
package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/james-see/cseq2midi/pkg/converter"
	"github.com/james-see/cseq2midi/pkg/logger"
	"github.com/james-see/cseq2midi/pkg/sbk"
)

// ErrNoTerminal is returned by Run when stdin or stdout is not a terminal.
var ErrNoTerminal = errors.New("tui needs an interactive terminal")

// Console palette
var (
	consoleRed    = lipgloss.Color("#E4000F")
	consoleGreen  = lipgloss.Color("#009E3D")
	consoleYellow = lipgloss.Color("#FFC600")
	consoleBlue   = lipgloss.Color("#0A47B8")
	lightGray     = lipgloss.Color("#C8C8C8")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(consoleYellow).
			Background(consoleBlue).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(lightGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(consoleYellow).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(consoleYellow).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(consoleRed).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(consoleGreen).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(consoleBlue).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateMenu State = iota
	StateFilePicker
	StateConverting
	StateResult
)

// Action is what a menu item does with the picked file
type Action int

const (
	ActionCseqToMIDI Action = iota
	ActionMIDIToCseq
	ActionSplit
	ActionExit
)

// MenuItem represents a menu option
type MenuItem struct {
	Title       string
	Description string
	Action      Action
	InputTypes  []string
	OutputExt   string
}

var menuItems = []MenuItem{
	{Title: "CSEQ → MIDI", Description: "Convert an N64 cseq sequence to a standard MIDI file", Action: ActionCseqToMIDI, InputTypes: []string{".seq", ".cseq", ".bin"}, OutputExt: ".mid"},
	{Title: "MIDI → CSEQ", Description: "Convert a format 1 MIDI file to a compressed cseq sequence", Action: ActionMIDIToCseq, InputTypes: []string{".mid", ".midi"}, OutputExt: ".seq"},
	{Title: "Split .sbk", Description: "Extract every sequence from a soundbank", Action: ActionSplit, InputTypes: []string{".sbk"}},
	{Title: "Exit", Description: "Exit the application", Action: ActionExit},
}

// Model represents the TUI model
type Model struct {
	state        State
	menuIndex    int
	filePicker   filepicker.Model
	spinner      spinner.Model
	selectedFile string
	outputs      []string
	item         MenuItem
	err          error
	width        int
	height       int
}

// conversionDoneMsg signals conversion completion
type conversionDoneMsg struct {
	outputs []string
	err     error
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick)
}

// New creates a new TUI model
func New() Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".mid", ".midi", ".seq", ".cseq", ".bin", ".sbk"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(consoleGreen)

	return Model{
		state:      StateMenu,
		menuIndex:  0,
		filePicker: fp,
		spinner:    s,
	}
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// the file picker needs to receive all messages while it is shown
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMenu
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.selectedFile = path
			m.state = StateConverting
			return m, tea.Batch(m.spinner.Tick, m.performConversion())
		}

		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateResult:
			return m.updateResult(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case conversionDoneMsg:
		m.state = StateResult
		m.outputs = msg.outputs
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(menuItems)-1 {
			m.menuIndex++
		}
	case "enter":
		m.item = menuItems[m.menuIndex]
		if m.item.Action == ActionExit {
			return m, tea.Quit
		}
		m.state = StateFilePicker
		m.filePicker.AllowedTypes = m.item.InputTypes
		return m, m.filePicker.Init()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StateMenu
		m.err = nil
		m.selectedFile = ""
		m.outputs = nil
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) performConversion() tea.Cmd {
	item, input := m.item, m.selectedFile
	return func() tea.Msg {
		outputs, err := run(item, input)
		return conversionDoneMsg{outputs: outputs, err: err}
	}
}

// run carries out a menu action on input and returns the files written.
func run(item MenuItem, input string) ([]string, error) {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	switch item.Action {
	case ActionCseqToMIDI, ActionMIDIToCseq:
		output := base + item.OutputExt
		conv := converter.New(converter.Options{Logger: logger.GetLogger()})
		if err := conv.ConvertFile(input, output); err != nil {
			return nil, err
		}
		return []string{output}, nil
	case ActionSplit:
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		entries, err := sbk.Split(data, logger.GetLogger())
		if err != nil {
			return nil, err
		}
		return sbk.WriteEntries(filepath.Dir(input), filepath.Base(base), entries)
	}
	return nil, fmt.Errorf("menu action %d takes no file", item.Action)
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateMenu:
		s.WriteString(m.viewMenu())
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateConverting:
		s.WriteString(m.viewConverting())
	case StateResult:
		s.WriteString(m.viewResult())
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: navigate • enter: select • q: quit"))

	return s.String()
}

func (m Model) viewMenu() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT ACTION "))
	s.WriteString("\n\n")

	for i, item := range menuItems {
		if i == m.menuIndex {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %s", item.Title)))
			s.WriteString("\n")
			s.WriteString(lipgloss.NewStyle().Foreground(consoleYellow).PaddingLeft(4).Render(item.Description))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %s", item.Title)))
		}
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf(" SELECT %s FILE ", strings.Join(m.item.InputTypes, " "))))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to menu"))

	return s.String()
}

func (m Model) viewConverting() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" WORKING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Processing %s...\n", m.spinner.View(), filepath.Base(m.selectedFile)))
	s.WriteString(statusStyle.Render("  " + m.item.Title))

	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil {
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s failed: %s", m.item.Title, m.err.Error())))
	} else {
		s.WriteString(titleStyle.Render(" SUCCESS "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Done!"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Input:  %s\n", filepath.Base(m.selectedFile)))
		for _, out := range m.outputs {
			s.WriteString(fmt.Sprintf("Output: %s\n", filepath.Base(out)))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to continue"))

	return boxStyle.Render(s.String())
}

func asciiLogo() string {
	logo := `
                        ____            _     _ _
   ___ ___  ___  __ _  |___ \ _ __ ___ (_) __| (_)
  / __/ __|/ _ \/ _' |   __) | '_ ' _ \| |/ _' | |
 | (__\__ \  __/ (_| |  / __/| | | | | | | (_| | |
  \___|___/\___|\__, | |_____|_| |_| |_|_|\__,_|_|
                   |_|
`
	return lipgloss.NewStyle().Foreground(consoleRed).Render(logo)
}

// Run starts the TUI application
func Run() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return ErrNoTerminal
	}
	p := tea.NewProgram(New(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
