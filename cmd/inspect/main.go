// Command inspect is an operational TUI for a running CodeManager: it
// lists live NativeModules, their reservation and committed-byte
// accounting, and the W^X state of each, refreshing once a second.
//
// Since this binary has no WebAssembly compiler wired in, it seeds the
// manager with a handful of synthetic modules and code objects so there
// is something to look at; a real deployment would point the same
// model at the CodeManager a running engine already owns.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/nativewasm/codemanager/codeobj"
	"github.com/nativewasm/codemanager/manager"
	"github.com/nativewasm/codemanager/nativemodule"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	cm    *manager.CodeManager
	tbl   table.Model
	width int
}

func newModel(cm *manager.CodeManager) model {
	columns := []table.Column{
		{Title: "Module", Width: 8},
		{Title: "Reservations", Width: 14},
		{Title: "Committed", Width: 12},
		{Title: "Executable", Width: 11},
		{Title: "Owned Code", Width: 12},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(12))
	return model{cm: cm, tbl: t}
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.refresh()
		return m, tick()
	}
	return m, nil
}

func (m *model) refresh() {
	mods := m.cm.LiveModules()
	rows := make([]table.Row, 0, len(mods))
	for _, mod := range mods {
		exec := "RW"
		if mod.IsExecutable() {
			exec = "RX"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("#%d", mod.ID()),
			fmt.Sprintf("%d", len(mod.Reservations())),
			fmt.Sprintf("%d B", mod.CommittedBytes()),
			exec,
			fmt.Sprintf("%d objs", countOwned(mod)),
		})
	}
	m.tbl.SetRows(rows)
}

func countOwned(mod *nativemodule.NativeModule) int {
	n := 0
	for i := uint32(0); ; i++ {
		if mod.CodeAt(i) == nil && i > 0 {
			break
		}
		if mod.CodeAt(i) != nil {
			n++
		}
		if i > 4096 {
			break
		}
	}
	return n
}

func (m model) View() string {
	header := titleStyle.Render("codemanager inspect")
	stats := statStyle.Render(fmt.Sprintf(
		"remaining uncommitted: %d B   active modules: %d",
		m.cm.RemainingUncommitted(), m.cm.Active(),
	))
	help := helpStyle.Render("q to quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s\n", header, stats, m.tbl.View(), help)
}

func seedDemoData(cm *manager.CodeManager) {
	for i := 0; i < 3; i++ {
		mod, err := cm.NewNativeModule(manager.NewModuleDescriptor{
			NumImports:              1,
			NumDeclaredFunctions:    4,
			SourceFunctionBodyBytes: []uint32{64, 128, 256, 48},
			CanGrow:                 true,
			UseTrapHandler:          true,
		})
		if err != nil {
			continue
		}
		for f := uint32(1); f < 4; f++ {
			desc := nativemodule.CodeDescriptor{Buffer: make([]byte, 64), InstrSize: 64}
			_, _ = mod.InstallFromDescriptor(desc, codeobj.FunctionIndex(f), codeobj.Function)
		}
	}
}

func main() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		cm := manager.New(manager.Config{MaxCommittedBytes: 256 << 20})
		seedDemoData(cm)
		for _, mod := range cm.LiveModules() {
			fmt.Printf("module #%d: reservations=%d committed=%dB executable=%v\n",
				mod.ID(), len(mod.Reservations()), mod.CommittedBytes(), mod.IsExecutable())
		}
		return
	}

	cm := manager.New(manager.Config{MaxCommittedBytes: 256 << 20})
	seedDemoData(cm)

	m := newModel(cm)
	m.refresh()
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
