package main

import (
	"context"
	"time"

	"github.com/gg582/ecodemand/src/governor"
)

// loadBucket holds the load extremes seen in one minute.
type loadBucket struct {
	min, max uint64
	seen     bool
}

// loadWindow tracks load min/max over a rolling hour using 60
// one-minute buckets.
type loadWindow struct {
	buckets       [60]loadBucket
	currentMinute int
}

func newLoadWindow() *loadWindow {
	return &loadWindow{currentMinute: -1}
}

func (w *loadWindow) observe(load uint64) {
	w.observeAt(load, time.Now().Minute())
}

// observeAt records a load at the given minute of the hour.
func (w *loadWindow) observeAt(load uint64, minute int) {
	if w.currentMinute >= 0 && minute != w.currentMinute {
		// Clear buckets for minutes that passed without data,
		// wrapping around the hour.
		for i := (w.currentMinute + 1) % 60; i != minute; i = (i + 1) % 60 {
			w.buckets[i] = loadBucket{}
		}
	}

	if minute != w.currentMinute {
		w.buckets[minute] = loadBucket{min: load, max: load, seen: true}
		w.currentMinute = minute
		return
	}

	b := &w.buckets[minute]
	b.min = min(b.min, load)
	b.max = max(b.max, load)
}

// minMax returns the extremes across the window, or zeros before any
// data arrives.
func (w *loadWindow) minMax() (uint64, uint64) {
	var lo, hi uint64
	found := false
	for _, b := range w.buckets {
		if !b.seen {
			continue
		}
		if !found || b.min < lo {
			lo = b.min
		}
		if b.max > hi {
			hi = b.max
		}
		found = true
	}
	return lo, hi
}

// domainStatePayload is the telemetry JSON published per domain.
type domainStatePayload struct {
	Load          uint64  `json:"load"`
	EffectiveLoad uint64  `json:"effective_load"`
	TargetKHz     uint64  `json:"target_khz"`
	FrequencyMHz  float64 `json:"frequency_mhz"`
	DownCount     uint    `json:"down_count"`
	LoadMin1h     uint64  `json:"load_min_1h"`
	LoadMax1h     uint64  `json:"load_max_1h"`
}

// statePublishInterval caps MQTT state traffic per domain. The control
// loop can tick every few milliseconds; Home Assistant does not need
// that.
const statePublishInterval = time.Second

// domainTelemetry is the per-domain telemetry state.
type domainTelemetry struct {
	window      *loadWindow
	lastTarget  uint64
	lastPublish time.Time
}

// update folds one report into the telemetry state and reports whether
// an MQTT publish is due.
func (st *domainTelemetry) update(report governor.TickReport, now time.Time) (domainStatePayload, bool) {
	st.window.observeAt(report.Load, now.Minute())
	lo, hi := st.window.minMax()

	payload := domainStatePayload{
		Load:          report.Load,
		EffectiveLoad: report.EffectiveLoad,
		TargetKHz:     report.TargetFreqKHz,
		FrequencyMHz:  float64(report.TargetFreqKHz) / 1000.0,
		DownCount:     report.DownCount,
		LoadMin1h:     lo,
		LoadMax1h:     hi,
	}

	due := now.Sub(st.lastPublish) >= statePublishInterval
	if due {
		st.lastPublish = now
	}
	return payload, due
}

// directionOf classifies a frequency change against the previous
// target.
func directionOf(prev, next uint64) string {
	switch {
	case next > prev:
		return "up"
	case next < prev:
		return "down"
	default:
		return ""
	}
}

// telemetryWorker consumes the tick report stream, maintains rolling
// per-domain statistics, updates the Prometheus metrics on every
// report, and publishes debounced state documents over MQTT. A nil
// sender disables the MQTT side.
func telemetryWorker(
	ctx context.Context,
	reportChan <-chan governor.TickReport,
	sender *MQTTSender,
) {
	state := make(map[string]*domainTelemetry)

	for {
		select {
		case report := <-reportChan:
			st, ok := state[report.Domain]
			if !ok {
				st = &domainTelemetry{
					window:     newLoadWindow(),
					lastTarget: report.TargetFreqKHz,
				}
				state[report.Domain] = st
			}

			if report.Changed {
				if dir := directionOf(st.lastTarget, report.TargetFreqKHz); dir != "" {
					frequencyChangesTotal.WithLabelValues(report.Domain, dir).Inc()
				}
			}
			st.lastTarget = report.TargetFreqKHz
			recordTick(report)

			payload, due := st.update(report, time.Now())
			if due && sender != nil {
				sender.PublishDomainState(report.Domain, payload)
			}

		case <-ctx.Done():
			return
		}
	}
}
