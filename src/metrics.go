package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gg582/ecodemand/src/governor"
)

var (
	domainLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecodemand_domain_load",
			Help: "Frequency-invariant load of the domain at the last tick",
		},
		[]string{"domain"},
	)
	domainEffectiveLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecodemand_domain_effective_load",
			Help: "Load after powersave bias, as compared against the thresholds",
		},
		[]string{"domain"},
	)
	domainTargetKHz = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecodemand_domain_target_khz",
			Help: "Last frequency applied to the domain",
		},
		[]string{"domain"},
	)
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodemand_ticks_total",
			Help: "Control ticks executed per domain",
		},
		[]string{"domain"},
	)
	frequencyChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodemand_frequency_changes_total",
			Help: "Committed frequency steps per domain and direction",
		},
		[]string{"domain", "direction"},
	)
	actuatorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecodemand_actuator_errors_total",
			Help: "Failed frequency applies per domain",
		},
		[]string{"domain"},
	)
	managedDomains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecodemand_domains",
			Help: "Number of frequency domains under management",
		},
	)
)

func init() {
	prometheus.MustRegister(domainLoad)
	prometheus.MustRegister(domainEffectiveLoad)
	prometheus.MustRegister(domainTargetKHz)
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(frequencyChangesTotal)
	prometheus.MustRegister(actuatorErrorsTotal)
	prometheus.MustRegister(managedDomains)
}

// recordTick updates the per-tick gauges and counters for one report.
func recordTick(report governor.TickReport) {
	domainLoad.WithLabelValues(report.Domain).Set(float64(report.Load))
	domainEffectiveLoad.WithLabelValues(report.Domain).Set(float64(report.EffectiveLoad))
	domainTargetKHz.WithLabelValues(report.Domain).Set(float64(report.TargetFreqKHz))
	ticksTotal.WithLabelValues(report.Domain).Inc()
}

// countingActuator wraps the actuation chain and counts and logs
// failed applies.
type countingActuator struct {
	next governor.FrequencyActuator
}

func (a countingActuator) Apply(domainID string, freqKHz uint64, rounding governor.Rounding) error {
	err := a.next.Apply(domainID, freqKHz, rounding)
	if err != nil {
		actuatorErrorsTotal.WithLabelValues(domainID).Inc()
		log.Printf("Warning: apply failed for %s: %v\n", domainID, err)
	}
	return err
}

// metricsWorker serves the Prometheus endpoint until shutdown.
func metricsWorker(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("Serving metrics on %s/metrics\n", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v\n", err)
	}
}
