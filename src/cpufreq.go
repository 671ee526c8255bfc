package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gg582/ecodemand/src/governor"
)

// sysfsCPUFreqRoot is a variable so tests can point discovery at a
// fake tree.
var sysfsCPUFreqRoot = "/sys/devices/system/cpu/cpufreq"

// readSysfsString reads one sysfs attribute, trimmed.
func readSysfsString(policyDir, attr string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(policyDir, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func readSysfsUint(policyDir, attr string) (uint64, error) {
	s, err := readSysfsString(policyDir, attr)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", filepath.Base(policyDir), attr, err)
	}
	return v, nil
}

// parseCPUList parses the space-separated CPU numbers of a
// related_cpus attribute into a sorted slice.
func parseCPUList(s string) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty cpu list")
	}
	cpus := make([]int, 0, len(fields))
	for _, f := range fields {
		cpu, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad cpu number %q", f)
		}
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	return cpus, nil
}

// parseFrequencyTable parses a scaling_available_frequencies line into
// an ascending kHz list. An empty line means the driver exposes no
// discrete table.
func parseFrequencyTable(s string) ([]uint64, error) {
	fields := strings.Fields(s)
	freqs := make([]uint64, 0, len(fields))
	for _, f := range fields {
		khz, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad frequency %q", f)
		}
		freqs = append(freqs, khz)
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })
	return freqs, nil
}

// readFrequencyTable loads a domain's supported operating points.
// Missing scaling_available_frequencies is not an error; drivers
// without a discrete table accept any kHz value.
func readFrequencyTable(policyID string) ([]uint64, error) {
	s, err := readSysfsString(filepath.Join(sysfsCPUFreqRoot, policyID), "scaling_available_frequencies")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseFrequencyTable(s)
}

// policySortKey orders policy directories numerically, so policy10
// sorts after policy2.
func policySortKey(dir string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "policy"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

func readPolicy(dir string) (governor.Policy, error) {
	cpusRaw, err := readSysfsString(dir, "related_cpus")
	if err != nil {
		return governor.Policy{}, err
	}
	cpus, err := parseCPUList(cpusRaw)
	if err != nil {
		return governor.Policy{}, fmt.Errorf("related_cpus: %w", err)
	}
	minFreq, err := readSysfsUint(dir, "cpuinfo_min_freq")
	if err != nil {
		return governor.Policy{}, err
	}
	maxFreq, err := readSysfsUint(dir, "cpuinfo_max_freq")
	if err != nil {
		return governor.Policy{}, err
	}
	cur, err := readSysfsUint(dir, "scaling_cur_freq")
	if err != nil {
		return governor.Policy{}, err
	}

	p := governor.Policy{
		ID:         filepath.Base(dir),
		CPUs:       cpus,
		MinFreqKHz: minFreq,
		MaxFreqKHz: maxFreq,
		CurFreqKHz: cur,
	}
	return p, p.Validate()
}

// discoverPolicies walks the cpufreq sysfs tree and returns one Policy
// per frequency domain, in policy-number order. Unreadable policy
// directories are logged and skipped rather than failing the rest of
// the machine.
func discoverPolicies() ([]governor.Policy, error) {
	dirs, err := filepath.Glob(filepath.Join(sysfsCPUFreqRoot, "policy*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(dirs, func(i, j int) bool { return policySortKey(dirs[i]) < policySortKey(dirs[j]) })

	var policies []governor.Policy
	for _, dir := range dirs {
		p, err := readPolicy(dir)
		if err != nil {
			log.Printf("Skipping %s: %v\n", filepath.Base(dir), err)
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}
