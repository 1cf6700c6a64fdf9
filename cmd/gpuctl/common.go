package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mscrnt/gpuctl/pkg/db"
	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// app holds the components opened for one command
type app struct {
	db         *db.DB
	dispatcher *display.Dispatcher
	facade     *gpu.Facade
	profiles   *profile.Store
}

// open opens the database and builds the display dispatcher and settings
// facade. The dispatcher binds lazily on first use.
func (c *cli) open(ctx context.Context) (*app, error) {
	database, err := db.Open(c.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := display.DefaultRegistry(display.ProbeOptions{
		Store:         database.Resolutions(),
		XrandrCommand: c.cfg.XrandrCommand,
		Logger:        c.logger,
	})
	dispatcher := display.NewDispatcher(registry, display.DispatcherOptions{
		Force:  c.cfg.Backend,
		Logger: c.logger,
	})

	telemetry := gpu.DetectTelemetry(ctx, gpu.TelemetryOptions{
		Force:  c.cfg.Telemetry,
		Logger: c.logger,
	})
	facade := gpu.New(gpu.Options{
		Store:     database.Settings(),
		Telemetry: telemetry,
		TTL:       c.cfg.CacheTTL,
		Logger:    c.logger,
	})

	return &app{
		db:         database,
		dispatcher: dispatcher,
		facade:     facade,
		profiles:   profile.NewStore(database, c.logger),
	}, nil
}

// Close releases the backend, telemetry and database handles
func (a *app) Close() {
	_ = a.dispatcher.Close()
	_ = a.facade.Close()
	_ = a.db.Close()
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// renderTable writes rows as a bordered table
func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// renderKV writes label/value pairs as a two column table
func renderKV(w io.Writer, pairs [][2]string) {
	rows := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, []string{p[0], p[1]})
	}
	renderTable(w, []string{"Field", "Value"}, rows)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func status(ok bool) string {
	if ok {
		return okStyle.Render("ok")
	}
	return failStyle.Render("failed")
}

var modePattern = regexp.MustCompile(`^(\d+)x(\d+)(?:@(\d+)(?:Hz)?)?$`)

// parseMode parses WIDTHxHEIGHT[@REFRESH[Hz]]; a missing refresh rate is 0
// and picks up the default later
func parseMode(s string) (width, height, refresh int, err error) {
	m := modePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("invalid mode %q (want WIDTHxHEIGHT[@REFRESH])", s)
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		refresh, _ = strconv.Atoi(m[3])
	}
	return width, height, refresh, nil
}

// resolutionFlags are the flags shared by resolution add and apply
type resolutionFlags struct {
	refresh int
	depth   int
	timing  string
	scaling string
	name    string
}

func (f *resolutionFlags) build(mode string) (resolution.CustomResolution, error) {
	w, h, r, err := parseMode(mode)
	if err != nil {
		return resolution.CustomResolution{}, err
	}
	if f.refresh != 0 {
		r = f.refresh
	}
	return resolution.New(resolution.CustomResolution{
		Width:          w,
		Height:         h,
		RefreshRate:    r,
		ColorDepth:     f.depth,
		TimingStandard: resolution.TimingStandard(f.timing),
		Scaling:        resolution.Scaling(f.scaling),
		Name:           f.name,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
