package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gg582/ecodemand/src/dashboard"
	"github.com/gg582/ecodemand/src/governor"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			// Check if we've exhausted retries
			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			// Wait before retry with exponential backoff
			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				// Double delay for next time, cap at max
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// newRegistry builds the governor registry shared by the daemon and
// the introspection commands.
func newRegistry(tun governor.Tunables, src governor.IdleTimeSource, act governor.FrequencyActuator) *governor.Registry {
	registry := governor.NewRegistry()

	must := func(err error) {
		if err != nil {
			log.Fatalf("Registering governors: %v", err)
		}
	}

	must(registry.Register("ecodemand", func(policy governor.Policy) (governor.Instance, error) {
		return governor.NewDomain(policy, tun, src, act)
	}))
	must(registry.Register("performance", func(policy governor.Policy) (governor.Instance, error) {
		return governor.NewPerformance(policy, act)
	}))
	must(registry.Register("powersave", func(policy governor.Policy) (governor.Instance, error) {
		return governor.NewPowersave(policy, act)
	}))

	return registry
}

func run(ctx context.Context, cfg Config) error {
	log.Println("Starting ecodemand...")

	if err := cfg.Tunables.Validate(); err != nil {
		return err
	}

	// Inner cancel lets SafeGo trigger shutdown after a worker
	// exhausts its retries.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	policies, err := discoverPolicies()
	if err != nil {
		return err
	}

	var selected []governor.Policy
	for _, p := range policies {
		if cfg.WantsDomain(p.ID) {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no frequency domains to manage")
	}

	var inner governor.FrequencyActuator
	if cfg.DryRun {
		log.Println("Dry run: frequency writes will be logged, not applied")
		inner = dryRunActuator{}
	} else {
		inner, err = newSysfsActuator(selected)
		if err != nil {
			return err
		}
	}
	gate := newGatedActuator(inner)
	act := &countingActuator{next: gate}

	source := newProcStatSource()
	registry := newRegistry(cfg.Tunables, source, act)

	// Build one instance per domain. Adaptive domains share a report
	// channel and are tracked in the table for remote control.
	reportChan := make(chan governor.TickReport, 64)
	table := NewDomainTable()
	var instances []governor.Instance
	for _, policy := range selected {
		inst, err := registry.New(cfg.Governor, policy)
		if err != nil {
			return fmt.Errorf("building governor for %s: %w", policy.ID, err)
		}
		if d, ok := inst.(*governor.Domain); ok {
			d.Reports = reportChan
			defer d.Close()
			table.Add(policy.ID, d)
		}
		instances = append(instances, inst)
	}
	managedDomains.Set(float64(len(instances)))

	// Fan out tick reports to the telemetry worker and, when the
	// console is up, the debug worker.
	telemetryChan := make(chan governor.TickReport, 64)
	outputChans := []chan<- governor.TickReport{telemetryChan}

	var debugChan chan governor.TickReport
	if cfg.Console {
		debugChan = make(chan governor.TickReport, 64)
		outputChans = append(outputChans, debugChan)
	}

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, reportChan, outputChans)
	})

	var sender *MQTTSender
	if cfg.MQTT.Enabled() {
		outgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		clientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect
		cmdChan := make(chan CommandMessage, 10)

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, outgoingChan, clientChan)
		})
		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, cfg.MQTT, cmdChan, clientChan)
		})

		sender = NewMQTTSender(outgoingChan)
		SafeGo(ctx, cancel, "command-worker", func(ctx context.Context) {
			commandWorker(ctx, cmdChan, table, gate, sender)
		})

		log.Println("Creating Home Assistant entities...")
		for _, id := range table.IDs() {
			d, _ := table.Get(id)
			if err := sender.CreateDomainSensors(id, len(d.Snapshot().Policy.CPUs)); err != nil {
				return fmt.Errorf("creating entities for %s: %w", id, err)
			}
		}
		if err := sender.CreateEnabledSwitch(); err != nil {
			return fmt.Errorf("creating enabled switch: %w", err)
		}
		sender.PublishEnabledState(true)
		log.Println("Home Assistant entities created")
	}

	SafeGo(ctx, cancel, "telemetry-worker", func(ctx context.Context) {
		telemetryWorker(ctx, telemetryChan, sender)
	})

	if cfg.ListenAddr != "" {
		SafeGo(ctx, cancel, "metrics-worker", func(ctx context.Context) {
			metricsWorker(ctx, cfg.ListenAddr)
		})
	}

	var started []governor.Instance
	for i, inst := range instances {
		if err := inst.Start(); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return fmt.Errorf("starting governor for %s: %w", selected[i].ID, err)
		}
		started = append(started, inst)
		log.Printf("Governor %s started on %s (%d CPUs)\n", cfg.Governor, selected[i].ID, len(selected[i].CPUs))
	}

	if cfg.Console {
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, table, registry, debugChan)
		})
	}

	<-ctx.Done()
	log.Println("Shutting down...")
	for _, inst := range started {
		inst.Stop()
	}
	return nil
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	var cfg Config
	var samplingRate time.Duration
	var upThreshold, downThreshold, freqStep, samplingDownFactor uint
	var powersaveBias int

	root := &cobra.Command{
		Use:   "ecodemand",
		Short: "Demand-based CPU frequency scaling daemon",
		Long: `ecodemand watches per-CPU idle time and walks each frequency
domain up or down in steps, the way the kernel's ondemand governor
does, but from userspace with MQTT remote control and Prometheus
metrics on top.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Tunables = governor.Tunables{
				UpThreshold:        upThreshold,
				DownThreshold:      downThreshold,
				FreqStep:           freqStep,
				SamplingRate:       samplingRate,
				SamplingDownFactor: samplingDownFactor,
				PowersaveBias:      powersaveBias,
			}
			cfg.MQTT = MQTTConfigFromEnv()
			return run(cmd.Context(), cfg)
		},
	}

	defaults := governor.DefaultTunables()
	root.Flags().StringVarP(&cfg.Governor, "governor", "g", "ecodemand", "governor to run (see 'ecodemand governors')")
	root.Flags().UintVar(&upThreshold, "up-threshold", defaults.UpThreshold, "load percent above which frequency steps up")
	root.Flags().UintVar(&downThreshold, "down-threshold", defaults.DownThreshold, "load percent below which frequency steps down")
	root.Flags().UintVar(&freqStep, "freq-step", defaults.FreqStep, "step size as percent of the domain's max frequency")
	root.Flags().DurationVarP(&samplingRate, "interval", "i", defaults.SamplingRate, "sampling interval (e.g. 10ms, 1s)")
	root.Flags().UintVar(&samplingDownFactor, "sampling-down-factor", defaults.SamplingDownFactor, "low-load ticks required before stepping down")
	root.Flags().IntVar(&powersaveBias, "powersave-bias", defaults.PowersaveBias, "bias subtracted from load before deciding (-100..100)")
	root.Flags().StringSliceVar(&cfg.Domains, "domains", nil, "frequency domains to manage (default all)")
	root.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "log frequency decisions without writing to sysfs")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", ":2112", "Prometheus metrics listen address (empty to disable)")
	root.Flags().BoolVar(&cfg.Console, "console", false, "run the interactive debug console")

	governors := &cobra.Command{
		Use:   "governors",
		Short: "List the available governors",
		Run: func(cmd *cobra.Command, args []string) {
			registry := newRegistry(governor.DefaultTunables(), newProcStatSource(), dryRunActuator{})
			for _, name := range registry.Names() {
				fmt.Println(name)
			}
		},
	}

	var dashDomains []string
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print a Home Assistant dashboard for the discovered domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := discoverPolicies()
			if err != nil {
				return err
			}
			filter := Config{Domains: dashDomains}
			ids := make([]string, 0, len(policies))
			for _, p := range policies {
				if filter.WantsDomain(p.ID) {
					ids = append(ids, p.ID)
				}
			}
			return dashboard.Generate(os.Stdout, ids)
		},
	}
	dashboardCmd.Flags().StringSliceVar(&dashDomains, "domains", nil, "frequency domains to include (default all)")

	root.AddCommand(governors, dashboardCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
