package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"candlecast/internal/candle"
	"candlecast/internal/feed"
)

var (
	bullStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#26a641"))
	bearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	wickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

type eventMsg feed.Event

type connectErrMsg struct{ err error }

// connector is the part of *feed.Client the view drives.
type connector interface {
	Connect(ctx context.Context) error
}

type model struct {
	ctx    context.Context
	client connector
	events <-chan feed.Event
	origin string
	record func([]candle.Candle)

	state    feed.State
	candles  []candle.Candle
	lastErr  error
	terminal bool
	width    int
	height   int
}

func newModel(ctx context.Context, c connector, events <-chan feed.Event, origin string, seed []candle.Candle, record func([]candle.Candle)) model {
	return model{
		ctx:     ctx,
		client:  c,
		events:  events,
		origin:  origin,
		record:  record,
		candles: seed,
	}
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			// manual retry; Connect resets the attempt budget
			if m.terminal || m.state == feed.StateDisconnected || m.state == feed.StateError {
				m.terminal = false
				m.lastErr = nil
				return m, reconnect(m.ctx, m.client)
			}
		}

	case connectErrMsg:
		m.lastErr = msg.err
		return m, nil

	case eventMsg:
		ev := feed.Event(msg)
		switch ev.Kind {
		case feed.EventState:
			m.state = ev.State
			if ev.State == feed.StateConnected {
				m.lastErr = nil
				m.terminal = false
			}
		case feed.EventSnapshot, feed.EventUpdate:
			m.candles = ev.Candles
			if m.record != nil {
				m.record(ev.Candles)
			}
		case feed.EventServerError:
			m.lastErr = ev.Err
		case feed.EventTerminal:
			m.lastErr = ev.Err
			m.terminal = true
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "connecting…"
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(renderChart(m.candles, m.width, m.height-5))
	b.WriteString(m.renderStatus())
	b.WriteByte('\n')
	keys := "[q] quit"
	if m.terminal || m.state == feed.StateDisconnected || m.state == feed.StateError {
		keys += "  [r] reconnect"
	}
	b.WriteString(footerStyle.Render(keys))
	return b.String()
}

func waitForEvent(ch <-chan feed.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func reconnect(ctx context.Context, c connector) tea.Cmd {
	return func() tea.Msg {
		if err := c.Connect(ctx); err != nil {
			return connectErrMsg{err}
		}
		return nil
	}
}

func (m model) renderHeader() string {
	k, ok := candle.Newest(m.candles)
	if !ok {
		return headerStyle.Render(fmt.Sprintf("%s  waiting for data…", m.origin))
	}
	return headerStyle.Render(fmt.Sprintf(
		"%s  %s  O:%.2f  H:%.2f  L:%.2f  C:%.2f  V:%d  %d candles",
		m.origin, time.UnixMilli(k.X).UTC().Format("2006-01-02"),
		k.O, k.H, k.L, k.C, k.V, len(m.candles),
	))
}

func (m model) renderStatus() string {
	s := "state: " + m.state.String()
	if m.lastErr != nil {
		return s + "  " + errStyle.Render(m.lastErr.Error())
	}
	return s
}

const yAxisWidth = 11 // "  12345.67 │"

func renderChart(cs []candle.Candle, width, chartH int) string {
	if chartH < 3 {
		chartH = 3
	}
	maxCols := (width - yAxisWidth) / 2
	if maxCols < 1 {
		maxCols = 1
	}
	if len(cs) > maxCols {
		cs = cs[len(cs)-maxCols:]
	}

	hi, lo := priceRange(cs)
	if hi == lo {
		hi = lo + 1
	}

	cols := len(cs) * 2
	grid := make([][]string, chartH)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}
	for i, k := range cs {
		paintCandle(grid, k, i*2, chartH, hi, lo)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		b.WriteString(axisStyle.Render(fmt.Sprintf("%9.2f │", rowToPrice(row, chartH, hi, lo))))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}
	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth+cols)))
	b.WriteByte('\n')
	return b.String()
}

// paintCandle draws one candle two columns wide starting at column x.
func paintCandle(grid [][]string, k candle.Candle, x, chartH int, hi, lo float64) {
	style := bullStyle
	if k.C < k.O {
		style = bearStyle
	}
	bodyTop := priceToRow(math.Max(k.O, k.C), chartH, hi, lo)
	bodyBot := priceToRow(math.Min(k.O, k.C), chartH, hi, lo)
	wickTop := priceToRow(k.H, chartH, hi, lo)
	wickBot := priceToRow(k.L, chartH, hi, lo)

	for row := 0; row < chartH; row++ {
		left, right := " ", " "
		switch {
		case row >= bodyTop && row <= bodyBot:
			left, right = style.Render("█"), style.Render("█")
		case row >= wickTop && row <= wickBot:
			left = wickStyle.Render("│")
		}
		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// priceToRow maps a price to a grid row, 0 being the top (hi).
func priceToRow(price float64, chartH int, hi, lo float64) int {
	if hi == lo {
		return chartH / 2
	}
	r := int(math.Round((hi - price) / (hi - lo) * float64(chartH-1)))
	if r < 0 {
		r = 0
	}
	if r >= chartH {
		r = chartH - 1
	}
	return r
}

func rowToPrice(row, chartH int, hi, lo float64) float64 {
	if chartH <= 1 {
		return hi
	}
	return hi - float64(row)/float64(chartH-1)*(hi-lo)
}

func priceRange(cs []candle.Candle) (hi, lo float64) {
	if len(cs) == 0 {
		return 0, 0
	}
	hi, lo = cs[0].H, cs[0].L
	for _, k := range cs[1:] {
		hi = math.Max(hi, k.H)
		lo = math.Min(lo, k.L)
	}
	return hi, lo
}
