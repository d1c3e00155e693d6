// Package monitor implements a read-only terminal dashboard over the
// running Server: a live session table and a scrolling event log. It
// issues no commands back into the core — every widget is fed by
// Server.Snapshot() and events.Bus subscriptions only.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"doipsim/events"
	"doipsim/server"
)

// Reporter is the subset of *server.Server the dashboard reads from.
type Reporter interface {
	SessionCount() int
	Snapshot() []server.Snapshot
}

const maxLogLines = 500

// Dashboard is the monitor's top-level tview application.
type Dashboard struct {
	app *tview.Application

	sessionsTable *tview.Table
	logView       *tview.TextView
	statusBar     *tview.TextView

	srv Reporter
	bus *events.Bus

	logMu    sync.Mutex
	logLines []string

	subID    events.SubscriberID
	stopChan chan struct{}
}

// New builds a Dashboard over srv, subscribing to bus for the event log.
func New(srv Reporter, bus *events.Bus) *Dashboard {
	d := &Dashboard{
		app:      tview.NewApplication(),
		srv:      srv,
		bus:      bus,
		stopChan: make(chan struct{}),
	}
	d.setupUI()
	return d
}

func (d *Dashboard) setupUI() {
	d.sessionsTable = tview.NewTable().SetBorders(false).SetFixed(1, 0)
	d.sessionsTable.SetBorder(true).SetTitle(" Sessions ")
	d.redrawSessions()

	d.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	d.logView.SetBorder(true).SetTitle(" Events ")

	d.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.setStatus("monitor: read-only view, press q to quit")

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.sessionsTable, 0, 1, false).
		AddItem(d.logView, 0, 2, false).
		AddItem(d.statusBar, 1, 0, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyCtrlC {
			d.app.Stop()
			return nil
		}
		return event
	})

	d.app.SetRoot(mainFlex, true)
}

func (d *Dashboard) setStatus(msg string) {
	d.statusBar.SetText(" " + msg)
}

// Run starts the dashboard's refresh loops and blocks until the user
// quits.
func (d *Dashboard) Run() error {
	d.subID = d.bus.Subscribe(func(e events.Event) {
		d.app.QueueUpdateDraw(func() {
			d.appendLogLine(e)
		})
	})
	defer d.bus.Unsubscribe(d.subID)

	go d.periodicRefresh()
	defer close(d.stopChan)

	return d.app.Run()
}

func (d *Dashboard) periodicRefresh() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.app.QueueUpdateDraw(d.redrawSessions)
		}
	}
}

func (d *Dashboard) redrawSessions() {
	d.sessionsTable.Clear()
	headers := []string{"Peer", "State", "Routing Source", "Last Activity"}
	for col, h := range headers {
		d.sessionsTable.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	for row, snap := range d.srv.Snapshot() {
		d.sessionsTable.SetCell(row+1, 0, tview.NewTableCell(snap.Peer))
		d.sessionsTable.SetCell(row+1, 1, tview.NewTableCell(snap.State.String()))
		d.sessionsTable.SetCell(row+1, 2, tview.NewTableCell(fmt.Sprintf("0x%04X", snap.RoutingSourceAddr)))
		d.sessionsTable.SetCell(row+1, 3, tview.NewTableCell(snap.LastActivity.Format(time.RFC3339)))
	}
}

func (d *Dashboard) appendLogLine(e events.Event) {
	color := "white"
	switch e.Severity {
	case events.SeverityWarn:
		color = "yellow"
	case events.SeverityError:
		color = "red"
	}
	line := fmt.Sprintf("[%s]%s [%s/%s] %s", color, e.Timestamp.Format("15:04:05"), e.Category, e.Severity, e.Message)
	if e.Peer != "" {
		line += " (" + e.Peer + ")"
	}

	d.logMu.Lock()
	d.logLines = append(d.logLines, line)
	if len(d.logLines) > maxLogLines {
		d.logLines = d.logLines[len(d.logLines)-maxLogLines:]
	}
	text := strings.Join(d.logLines, "\n")
	d.logMu.Unlock()

	d.logView.SetText(text)
	d.logView.ScrollToEnd()
}
