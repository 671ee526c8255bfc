package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/gg582/ecodemand/src/governor"
)

// ANSI color codes for highlighting committed frequency changes.
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter wraps log output to work with readline.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output.
var rlWriter = &readlineWriter{}

// DebugState tracks which domains the console is watching.
type DebugState struct {
	watches       map[string]bool
	headerPrinted bool
	rl            *readline.Instance
}

func NewDebugState() *DebugState {
	return &DebugState{watches: make(map[string]bool)}
}

// SetReadline sets the readline instance for proper output handling.
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling the readline prompt properly.
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// Watch starts streaming tick rows for a domain.
func (s *DebugState) Watch(id string) {
	if s.watches[id] {
		log.Printf("Already watching: %s", id)
		return
	}
	s.watches[id] = true
	s.headerPrinted = false
	log.Printf("Watching: %s", id)
}

// Unwatch stops streaming a domain.
func (s *DebugState) Unwatch(id string) {
	if !s.watches[id] {
		log.Printf("No watch found for: %s", id)
		return
	}
	delete(s.watches, id)
	log.Printf("Unwatched: %s", id)
}

// UnwatchAll removes all watches.
func (s *DebugState) UnwatchAll() {
	s.watches = make(map[string]bool)
	log.Println("All watches removed")
}

// PrintHeader prints the column headers for watch rows.
func (s *DebugState) PrintHeader() {
	s.print("%-10s %5s %5s %12s %5s", "DOMAIN", "LOAD", "EFF", "TARGET kHz", "DOWN")
	s.headerPrinted = true
}

// PrintReport prints a watch row for one tick, highlighting the
// target when this tick committed a frequency change.
func (s *DebugState) PrintReport(report governor.TickReport) {
	if !s.watches[report.Domain] {
		return
	}
	if !s.headerPrinted {
		s.PrintHeader()
	}

	target := fmt.Sprintf("%12d", report.TargetFreqKHz)
	if report.Changed {
		target = ansiYellow + target + ansiReset
	}
	s.print("%-10s %5d %5d %s %5d", report.Domain, report.Load, report.EffectiveLoad, target, report.DownCount)
}

// parseTunable maps a console field name and value onto the tunables.
func parseTunable(tun governor.Tunables, name, value string) (governor.Tunables, error) {
	switch name {
	case "up_threshold", "down_threshold", "freq_step", "sampling_down_factor":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return tun, fmt.Errorf("%s must be a number: %w", name, err)
		}
		switch name {
		case "up_threshold":
			tun.UpThreshold = uint(v)
		case "down_threshold":
			tun.DownThreshold = uint(v)
		case "freq_step":
			tun.FreqStep = uint(v)
		case "sampling_down_factor":
			tun.SamplingDownFactor = uint(v)
		}
	case "sampling_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return tun, fmt.Errorf("sampling_rate wants a duration like 100ms: %w", err)
		}
		tun.SamplingRate = d
	case "powersave_bias":
		v, err := strconv.Atoi(value)
		if err != nil {
			return tun, fmt.Errorf("powersave_bias must be a number: %w", err)
		}
		tun.PowersaveBias = v
	default:
		return tun, fmt.Errorf("unknown tunable %q", name)
	}
	return tun, nil
}

func formatDomainLine(id string, snap governor.Snapshot) string {
	state := "stopped"
	if snap.Running {
		state = "running"
	}
	return fmt.Sprintf("%-10s cpus %v  %d-%d kHz  target %d kHz  %s",
		id, snap.Policy.CPUs, snap.Policy.MinFreqKHz, snap.Policy.MaxFreqKHz, snap.TargetFreqKHz, state)
}

// handleConsoleCommand processes one console command line.
func handleConsoleCommand(cmd string, state *DebugState, table *DomainTable, registry *governor.Registry) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "domains":
		if table.Len() == 0 {
			state.print("No adaptive domains under management")
			return
		}
		for _, id := range table.IDs() {
			d, _ := table.Get(id)
			state.print("%s", formatDomainLine(id, d.Snapshot()))
		}

	case "show":
		if len(parts) != 2 {
			log.Println("Usage: show <domain>")
			return
		}
		d, ok := table.Get(parts[1])
		if !ok {
			log.Printf("Unknown domain: %s", parts[1])
			return
		}
		snap := d.Snapshot()
		state.print("%s", formatDomainLine(parts[1], snap))
		state.print("  up_threshold         %d", snap.Tunables.UpThreshold)
		state.print("  down_threshold       %d", snap.Tunables.DownThreshold)
		state.print("  freq_step            %d", snap.Tunables.FreqStep)
		state.print("  sampling_rate        %v", snap.Tunables.SamplingRate)
		state.print("  sampling_down_factor %d", snap.Tunables.SamplingDownFactor)
		state.print("  powersave_bias       %d", snap.Tunables.PowersaveBias)
		state.print("  down_count           %d", snap.DownCount)

	case "set":
		if len(parts) != 4 {
			log.Println("Usage: set <domain|all> <tunable> <value>")
			return
		}
		domains, err := table.Resolve(parts[1])
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		for _, d := range domains {
			snap := d.Snapshot()
			tun, err := parseTunable(snap.Tunables, parts[2], parts[3])
			if err != nil {
				log.Printf("Error: %v", err)
				return
			}
			if err := d.Reconfigure(tun); err != nil {
				log.Printf("Error for %s: %v", snap.Policy.ID, err)
				continue
			}
			log.Printf("Set %s %s=%s", snap.Policy.ID, parts[2], parts[3])
		}

	case "limits":
		if len(parts) != 4 {
			log.Println("Usage: limits <domain> <min_khz> <max_khz>")
			return
		}
		d, ok := table.Get(parts[1])
		if !ok {
			log.Printf("Unknown domain: %s", parts[1])
			return
		}
		minKHz, err1 := strconv.ParseUint(parts[2], 10, 64)
		maxKHz, err2 := strconv.ParseUint(parts[3], 10, 64)
		if err1 != nil || err2 != nil {
			log.Println("Limits must be numbers in kHz")
			return
		}
		if err := d.SetLimits(minKHz, maxKHz); err != nil {
			log.Printf("Error: %v", err)
			return
		}
		log.Printf("Limits for %s now %d-%d kHz", parts[1], minKHz, maxKHz)

	case "watch":
		if len(parts) != 2 {
			log.Println("Usage: watch <domain>")
			return
		}
		if _, ok := table.Get(parts[1]); !ok {
			log.Printf("Unknown domain: %s", parts[1])
			return
		}
		state.Watch(parts[1])

	case "unwatch":
		if len(parts) != 2 {
			log.Println("Usage: unwatch <domain> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.UnwatchAll()
			return
		}
		state.Unwatch(parts[1])

	case "governors":
		for _, name := range registry.Names() {
			state.print("%s", name)
		}

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  domains                          - List managed domains")
		fmt.Println("  show <domain>                    - Show a domain's policy and tunables")
		fmt.Println("  set <domain|all> <tunable> <value> - Change a tunable")
		fmt.Println("  limits <domain> <min> <max>      - Change frequency bounds (kHz)")
		fmt.Println("  watch <domain>                   - Stream tick rows for a domain")
		fmt.Println("  unwatch <domain>                 - Stop streaming a domain")
		fmt.Println("  unwatch --all                    - Stop streaming everything")
		fmt.Println("  governors                        - List registered governors")
		fmt.Println("  help                             - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel.
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for the console history file.
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	ecodemandCache := filepath.Join(cacheDir, "ecodemand")
	_ = os.MkdirAll(ecodemandCache, 0o750)
	return filepath.Join(ecodemandCache, "debug_history")
}

// debugWorker provides interactive introspection of the managed
// domains.
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	table *DomainTable,
	registry *governor.Registry,
	reportChan <-chan governor.TickReport,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
	}()

	// Route log output through the readline-aware writer so worker
	// logs do not mangle the prompt.
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState()
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleConsoleCommand(cmd, state, table, registry)
		case report := <-reportChan:
			state.PrintReport(report)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
