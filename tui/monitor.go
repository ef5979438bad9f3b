package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/blockdev"
)

// DeviceSource supplies the local device listing.
type DeviceSource interface {
	List(ctx context.Context) []blockdev.Device
}

// ShareSource supplies the active network mounts.
type ShareSource interface {
	NetworkShares() []diskman.NetworkShare
}

// refreshMsg carries one polling cycle's data into the model.
type refreshMsg struct {
	devices []blockdev.Device
	shares  []diskman.NetworkShare
	at      time.Time
}

// tickMsg triggers the next poll.
type tickMsg time.Time

// Model is the bubbletea model for the live device monitor.
type Model struct {
	devices DeviceSource
	shares  ShareSource

	refreshInterval time.Duration

	table       table.Model
	spinner     spinner.Model
	styles      *Styles
	width       int
	height      int
	lastRefresh time.Time
	shareRows   []diskman.NetworkShare
	loaded      bool
	quitting    bool
}

// NewModel creates the monitor model. refreshInterval <= 0 defaults to 5s.
func NewModel(devices DeviceSource, shares ShareSource, refreshInterval time.Duration) Model {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Second
	}

	columns := []table.Column{
		{Title: "DEVICE", Width: 14},
		{Title: "TYPE", Width: 6},
		{Title: "SIZE", Width: 10},
		{Title: "FSTYPE", Width: 8},
		{Title: "MOUNTPOINT", Width: 24},
		{Title: "USE%", Width: 6},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		devices:         devices,
		shares:          shares,
		refreshInterval: refreshInterval,
		table:           t,
		spinner:         sp,
		styles:          DefaultStyles(),
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		msg := refreshMsg{at: time.Now()}
		msg.devices = m.devices.List(ctx)
		if m.shares != nil {
			msg.shares = m.shares.NetworkShares()
		}
		return msg
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case refreshMsg:
		m.loaded = true
		m.lastRefresh = msg.at
		m.shareRows = msg.shares
		m.table.SetRows(deviceRows(msg.devices))
		return m, m.tick()

	case tickMsg:
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// deviceRows flattens the device tree into table rows, indenting children
// under their parent.
func deviceRows(devices []blockdev.Device) []table.Row {
	var rows []table.Row
	var walk func(devs []blockdev.Device, depth int)
	walk = func(devs []blockdev.Device, depth int) {
		for _, d := range devs {
			name := strings.Repeat("  ", depth) + d.Name
			use := ""
			if d.UsagePercent > 0 {
				use = fmt.Sprintf("%.0f%%", d.UsagePercent)
			}
			rows = append(rows, table.Row{
				name,
				string(d.Type),
				humanize.IBytes(d.SizeBytes),
				d.Filesystem,
				d.MountPoint,
				use,
			})
			walk(d.Children, depth+1)
		}
	}
	walk(devices, 0)
	return rows
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Disk Monitor"))
	if m.loaded {
		b.WriteString(m.styles.Subtitle.Render(
			fmt.Sprintf("refreshed %s", m.lastRefresh.Format("15:04:05"))))
	} else {
		b.WriteString(m.styles.Subtitle.Render(m.spinner.View() + " loading"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.styles.Panel.Render(m.table.View()))
	b.WriteString("\n")

	if len(m.shareRows) > 0 {
		b.WriteString(m.styles.TableHeader.Render("Network shares"))
		b.WriteString("\n")
		for _, s := range m.shareRows {
			line := fmt.Sprintf("  %s → %s (%s)", shareDevice(s), s.MountPoint, s.Filesystem)
			if s.TotalBytes > 0 {
				line += fmt.Sprintf("  %s / %s",
					humanize.IBytes(s.UsedBytes), humanize.IBytes(s.TotalBytes))
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render("r refresh · q quit"))
	return b.String()
}

func shareDevice(s diskman.NetworkShare) string {
	if s.Type == diskman.ShareCIFS {
		return "//" + s.Server + "/" + s.SharePath
	}
	return s.Server + ":" + s.SharePath
}

// Run starts the monitor in the alternate screen and blocks until exit.
func Run(devices DeviceSource, shares ShareSource, refreshInterval time.Duration) error {
	p := tea.NewProgram(NewModel(devices, shares, refreshInterval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunInline runs the monitor without the alternate screen, for SSH sessions
// and scripting.
func RunInline(devices DeviceSource, shares ShareSource, refreshInterval time.Duration) error {
	p := tea.NewProgram(NewModel(devices, shares, refreshInterval))
	_, err := p.Run()
	return err
}
