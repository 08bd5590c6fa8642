package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/alerts"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/autoscaler"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/gateway"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/metrics"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/observability"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/registry"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/rollback"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/tenancy"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/volume"
)

// rollbackHistoryCapacity bounds how many deployment snapshots the rollback
// executor remembers; original_source's claw-rollback crate defaults to 50.
const rollbackHistoryCapacity = 50

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawgate",
	Short: "clawgate runs the cluster control plane: node registry, scheduling, CLI API",
	Long: `clawgate is the single-process control plane for a clawbernetes
cluster. It terminates the node<->gateway and CLI<->gateway JSON-framed
streams, places GPU workloads onto registered nodes, and tracks their
lifecycle.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("node-addr", ":7780", "address the node-facing socket listens on")
	serveCmd.Flags().String("cli-addr", ":7781", "address the CLI-facing socket listens on")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address the /metrics HTTP endpoint listens on")
	serveCmd.Flags().Bool("mesh-enabled", false, "enable WireGuard workload networking")
	serveCmd.Flags().Bool("mesh-fake", false, "use an in-memory fake WireGuard interface instead of wgctrl (development only)")
	serveCmd.Flags().Duration("eval-interval", 30*time.Second, "interval between autoscaler and observability evaluation passes")
	serveCmd.Flags().Int("autoscale-min-nodes", 1, "lower bound the autoscaler will not scale below")
	serveCmd.Flags().Int("autoscale-max-nodes", 10, "upper bound the autoscaler will not scale above")
	serveCmd.Flags().Float64("autoscale-target-percent", 70, "target GPU utilization percent the autoscaler holds the fleet to")

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the gateway control plane in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeAddr, _ := cmd.Flags().GetString("node-addr")
		cliAddr, _ := cmd.Flags().GetString("cli-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		meshEnabled, _ := cmd.Flags().GetBool("mesh-enabled")
		meshFake, _ := cmd.Flags().GetBool("mesh-fake")

		var meshMgr *mesh.Manager
		if meshEnabled {
			var iface mesh.Interface
			var err error
			if meshFake {
				iface = mesh.NewFakeInterface()
			} else {
				iface, err = mesh.NewWGCtrlInterface()
				if err != nil {
					return fmt.Errorf("clawgate: open wireguard control interface: %w", err)
				}
			}
			meshMgr, err = mesh.NewManager(iface, mesh.DefaultManagerConfig())
			if err != nil {
				return fmt.Errorf("clawgate: start mesh manager: %w", err)
			}
		}

		evalInterval, _ := cmd.Flags().GetDuration("eval-interval")
		autoscaleMinNodes, _ := cmd.Flags().GetInt("autoscale-min-nodes")
		autoscaleMaxNodes, _ := cmd.Flags().GetInt("autoscale-max-nodes")
		autoscaleTargetPercent, _ := cmd.Flags().GetFloat64("autoscale-target-percent")

		metricsReg := metrics.NewRegistry()
		dispatcher := gateway.NewDispatcher(
			tenancy.NewManager(),
			registry.NewRegistry(),
			meshMgr,
			volume.NewManager(),
			metricsReg,
			gateway.Config{WorkloadNetworkEnabled: meshEnabled},
		)

		rollbackHistory, err := rollback.NewHistory(rollbackHistoryCapacity)
		if err != nil {
			return fmt.Errorf("clawgate: build rollback history: %w", err)
		}
		dispatcher.
			WithAlerts(alerts.NewEngine()).
			WithAutoscaler(autoscaler.NewEvaluator(gateway.NewClusterMetricsProvider(dispatcher), gateway.NewInMemoryCooldownTracker())).
			WithRollback(rollback.NewExecutor(rollbackHistory)).
			WithObservability(observability.NewAnalyzer(observability.DefaultAnalyzerConfig()))

		scalingPolicy := types.ScalingPolicy{
			Kind:             types.PolicyTargetUtilization,
			TargetPercent:    autoscaleTargetPercent,
			TolerancePercent: 10,
			Enabled:          true,
		}
		scalingBounds := types.ScalingBounds{
			MinNodes:          autoscaleMinNodes,
			MaxNodes:          autoscaleMaxNodes,
			ScaleUpCooldown:   2 * time.Minute,
			ScaleDownCooldown: 5 * time.Minute,
			MaxScaleDelta:     2,
		}

		dispatcher.Start()
		defer dispatcher.Stop()

		nodeServer := gateway.NewNodeServer(dispatcher)
		cliServer := gateway.NewCLIServer(dispatcher, nodeServer)

		nodeLn, err := net.Listen("tcp", nodeAddr)
		if err != nil {
			return fmt.Errorf("clawgate: listen on node address %s: %w", nodeAddr, err)
		}
		cliLn, err := net.Listen("tcp", cliAddr)
		if err != nil {
			return fmt.Errorf("clawgate: listen on cli address %s: %w", cliAddr, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 3)
		go func() {
			if err := nodeServer.Serve(ctx, nodeLn); err != nil {
				errCh <- fmt.Errorf("node server: %w", err)
			}
		}()
		go func() {
			if err := cliServer.Serve(ctx, cliLn); err != nil {
				errCh <- fmt.Errorf("cli server: %w", err)
			}
		}()
		go runEvaluationLoop(ctx, dispatcher, evalInterval, scalingPolicy, scalingBounds)

		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			contentType, body, err := metricsReg.Encode()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.Write(body)
		})
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()

		fmt.Printf("clawgate listening: nodes=%s cli=%s metrics=http://%s/metrics\n", nodeAddr, cliAddr, metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		cancel()
		nodeLn.Close()
		cliLn.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// runEvaluationLoop periodically drives the autoscaler and observability
// analyzer attached to dispatcher, since neither has its own scheduling
// loop: the autoscaler evaluates the whole registered fleet as one pool,
// and the analyzer runs once per currently registered node.
func runEvaluationLoop(ctx context.Context, dispatcher *gateway.Dispatcher, interval time.Duration, policy types.ScalingPolicy, bounds types.ScalingBounds) {
	logger := log.WithComponent("clawgate.evaluator")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			nodes := dispatcher.ListNodes(nil)
			rec, err := dispatcher.EvaluateScaling(ctx, gateway.DefaultPoolID, len(nodes), policy, bounds, now)
			if err != nil {
				logger.Warn().Err(err).Msg("autoscaler evaluation failed")
			} else if rec.Direction != types.ScaleNone {
				logger.Info().Str("direction", string(rec.Direction)).Int("current_nodes", rec.CurrentNodes).Int("target_nodes", rec.TargetNodes).Str("reason", rec.Reason).Msg("scaling recommendation")
			}

			for _, n := range nodes {
				points := dispatcher.NodeHealthMetricPoints(n.ID, now)
				result, err := dispatcher.AnalyzeNode(string(n.ID), points, nil, now)
				if err != nil {
					continue
				}
				if result.Diagnosis.Status != observability.HealthHealthy {
					logger.Warn().Str("node_id", string(n.ID)).Str("status", string(result.Diagnosis.Status)).Msg("node health degraded")
				}
			}
		}
	}
}
