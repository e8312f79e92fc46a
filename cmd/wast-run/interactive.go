package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/wast"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type commandRow struct {
	command wast.Command
	result  *engine.Result
}

type interactiveModel struct {
	driver   *engine.Driver
	ctx      context.Context
	filename string
	rows     []commandRow
	selected int
	view     viewport.Model
	status   string
	quitting bool
}

func runInteractive(scriptFile string) error {
	source, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	commands, parseErrs := wast.ParseScript(string(source))
	if len(parseErrs) > 0 {
		return fmt.Errorf("script has %d parse errors, first: %s", len(parseErrs), parseErrs[0])
	}

	ctx := context.Background()
	driver := engine.NewDriver(ctx)
	defer driver.Close(ctx)

	rows := make([]commandRow, len(commands))
	for i, c := range commands {
		rows[i] = commandRow{command: c}
	}

	m := interactiveModel{
		driver:   driver,
		ctx:      ctx,
		filename: scriptFile,
		rows:     rows,
		view:     viewport.New(80, 20),
		status:   "enter: run next · a: run all · q: quit",
	}

	_, err = tea.NewProgram(&m).Run()
	return err
}

func (m *interactiveModel) Init() tea.Cmd { return nil }

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case "enter":
			m.runOne(m.selected)
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case "a":
			for i := range m.rows {
				m.runOne(i)
			}
			m.status = "ran all commands"
		}
	}
	return m, nil
}

// runOne executes a single command. Commands carry state forward (a
// module command changes what invoke sees), so running out of order
// reflects whatever the driver has instantiated so far.
func (m *interactiveModel) runOne(i int) {
	if i < 0 || i >= len(m.rows) {
		return
	}
	results := m.driver.Run(m.ctx, []wast.Command{m.rows[i].command})
	m.rows[i].result = &results[0]
	if results[0].Err != nil {
		m.status = errStyle.Render(results[0].Err.Error())
	} else {
		m.status = okStyle.Render(fmt.Sprintf("command %d ok", i))
	}
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	for i, row := range m.rows {
		line := fmt.Sprintf("%3d  %-22T %s", i, row.command, row.command.CommandLocus())
		switch {
		case row.result == nil:
		case row.result.Skipped:
			line += helpStyle.Render("  skip")
		case row.result.Err != nil:
			line += errStyle.Render("  fail")
		default:
			line += okStyle.Render("  pass")
		}
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	m.view.SetContent(b.String())

	return titleStyle.Render("wast-run · "+m.filename) + "\n\n" +
		m.view.View() + "\n" +
		m.status + "\n" +
		helpStyle.Render("enter: run · a: all · j/k: move · q: quit")
}
