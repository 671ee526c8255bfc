package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// procStatPath is a variable so tests can parse a fixture file.
var procStatPath = "/proc/stat"

// procStatSnapshotWindow is how long one parse of /proc/stat stays
// valid. A control tick reads all of a domain's CPUs within
// microseconds, so one parse serves the whole tick and every CPU sees
// the same snapshot.
const procStatSnapshotWindow = time.Millisecond

type cpuTimes struct {
	wall uint64
	idle uint64
}

// procStatSource reads per-CPU accounting from /proc/stat cpuN lines.
// Wall time is the sum of all columns, idle time is the idle and
// iowait columns. Values are jiffies; the unit cancels out of the load
// calculation.
type procStatSource struct {
	mu     sync.Mutex
	byCPU  map[int]cpuTimes
	readAt time.Time
}

func newProcStatSource() *procStatSource {
	return &procStatSource{}
}

func (s *procStatSource) Read(cpu int) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.readAt) > procStatSnapshotWindow {
		byCPU, err := readProcStat()
		if err != nil {
			s.byCPU = nil
			return 0, 0, err
		}
		s.byCPU = byCPU
		s.readAt = time.Now()
	}

	times, ok := s.byCPU[cpu]
	if !ok {
		return 0, 0, fmt.Errorf("no cpu%d line in %s", cpu, procStatPath)
	}
	return times.wall, times.idle, nil
}

func readProcStat() (map[int]cpuTimes, error) {
	f, err := os.Open(procStatPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byCPU := make(map[int]cpuTimes)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		fields := strings.Fields(line)
		id := strings.TrimPrefix(fields[0], "cpu")
		if id == "" {
			// Aggregate line; only the per-CPU lines matter here.
			continue
		}
		cpu, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		times, err := sumStatColumns(fields[1:])
		if err != nil {
			// A malformed line drops that CPU for this window.
			continue
		}
		byCPU[cpu] = times
	}
	return byCPU, sc.Err()
}

// sumStatColumns folds one cpuN line's jiffy columns. Column order is
// user nice system idle iowait irq softirq steal guest guest_nice.
func sumStatColumns(columns []string) (cpuTimes, error) {
	if len(columns) < 5 {
		return cpuTimes{}, fmt.Errorf("short stat line, %d columns", len(columns))
	}
	var times cpuTimes
	for i, col := range columns {
		v, err := strconv.ParseUint(col, 10, 64)
		if err != nil {
			return cpuTimes{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		times.wall += v
		if i == 3 || i == 4 {
			times.idle += v
		}
	}
	return times, nil
}
