package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitErr carries the process exit code a CLI failure should produce,
// distinct from cobra's default blanket exit(1).
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitErr); ok {
		return ee.code
	}
	// Every RunE failure is an *exitErr, so anything else is a cobra
	// argument or flag error.
	return 2
}

var rootCmd = &cobra.Command{
	Use:   "clawctl",
	Short: "clawctl talks to a clawgate control plane",
}

func init() {
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7781", "clawgate CLI-facing address")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(workloadsCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(meshCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(rollbackCmd)

	nodesCmd.AddCommand(nodesListCmd)
	nodesCmd.AddCommand(nodesGetCmd)
	nodesCmd.AddCommand(nodesDrainCmd)
	nodesListCmd.Flags().String("health", "", "filter by health state (healthy, unhealthy, draining, offline)")

	workloadsCmd.AddCommand(workloadsListCmd)
	workloadsCmd.AddCommand(workloadsGetCmd)
	workloadsCmd.AddCommand(workloadsStartCmd)
	workloadsCmd.AddCommand(workloadsStopCmd)
	workloadsCmd.AddCommand(workloadsLogsCmd)
	workloadsStartCmd.Flags().String("image", "", "container image")
	workloadsStartCmd.Flags().StringSlice("command", nil, "container command (comma-separated)")
	workloadsStartCmd.Flags().Int("gpu-count", 0, "GPUs requested")
	workloadsStartCmd.Flags().Int64("memory-mib", 0, "memory requested, in MiB")
	workloadsStartCmd.Flags().Float64("cpu-cores", 0, "CPU cores requested")
	workloadsStartCmd.Flags().String("preferred-node", "", "node ID to prefer at placement time")
	workloadsStopCmd.Flags().Int("grace-period-secs", 10, "seconds to wait before a forced kill")
	workloadsLogsCmd.Flags().Int("tail", 0, "number of trailing lines to return (0 means all buffered)")

	gatesCmd.AddCommand(gatesListCmd)
	gatesCmd.AddCommand(gatesClearCmd)

	meshCmd.AddCommand(meshStatusCmd)
	meshCmd.AddCommand(meshPeersCmd)
	meshCmd.AddCommand(meshNodeCmd)
	meshStatusCmd.Flags().String("tunnel", "", "tunnel name; omit to list every tunnel")

	invokeCmd.Flags().String("params", "", "JSON params to pass to the command")
	invokeCmd.Flags().Int("timeout-ms", 0, "timeout in milliseconds (0 uses the gateway default)")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsPutRuleCmd)
	alertsPutRuleCmd.Flags().String("name", "", "rule name")
	alertsPutRuleCmd.Flags().String("metric", "", "metric name the rule watches")
	alertsPutRuleCmd.Flags().String("comparator", ">", "comparator: > >= < <= == !=")
	alertsPutRuleCmd.Flags().Float64("threshold", 0, "threshold value")
	alertsPutRuleCmd.Flags().Int("for-secs", 0, "seconds the condition must hold before firing")
	alertsPutRuleCmd.Flags().String("severity", "warning", "severity: info, warning, critical")
	alertsPutRuleCmd.Flags().Bool("enabled", true, "whether the rule is active")

	rollbackCmd.AddCommand(rollbackPlanCmd)
	rollbackCmd.AddCommand(rollbackExecuteCmd)
	rollbackPlanCmd.Flags().String("target", "", "deployment ID to roll back to (omit for the immediately preceding one)")
	rollbackExecuteCmd.Flags().String("id", "", "plan ID")
	rollbackExecuteCmd.Flags().String("trigger", "manual", "trigger kind")
	rollbackExecuteCmd.Flags().String("strategy", "rolling", "strategy kind: immediate, rolling, blue_green, canary")
	rollbackExecuteCmd.Flags().Bool("dry-run", false, "validate without applying")
	rollbackExecuteCmd.Flags().Int("batch-size", 1, "rolling strategy batch size")
}

// request opens a fresh connection, performs the hello/welcome handshake,
// sends one request frame, and decodes the single response frame. clawctl is
// a one-shot CLI: every invocation dials anew rather than holding a session.
func request(addr string, reqType protocol.MessageType, req any, resp any) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return &exitErr{code: 3, err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	if err := writeFrame(conn, protocol.TypeHello, protocol.HelloMessage{ProtocolVer: protocol.ProtocolVersion}); err != nil {
		return &exitErr{code: 3, err: err}
	}
	if !scanner.Scan() {
		return &exitErr{code: 3, err: fmt.Errorf("no welcome from gateway: %v", scanner.Err())}
	}
	welcome, err := protocol.Decode(scanner.Bytes())
	if err != nil {
		return &exitErr{code: 3, err: err}
	}
	if welcome.Type == protocol.TypeError {
		return decodeServerError(welcome)
	}

	if err := writeFrame(conn, reqType, req); err != nil {
		return &exitErr{code: 3, err: err}
	}
	if !scanner.Scan() {
		return &exitErr{code: 3, err: fmt.Errorf("no response from gateway: %v", scanner.Err())}
	}
	frame, err := protocol.Decode(scanner.Bytes())
	if err != nil {
		return &exitErr{code: 3, err: err}
	}
	if frame.Type == protocol.TypeError {
		return decodeServerError(frame)
	}
	if resp != nil {
		if err := json.Unmarshal(frame.Raw, resp); err != nil {
			return &exitErr{code: 3, err: err}
		}
	}
	return nil
}

func writeFrame(conn net.Conn, msgType protocol.MessageType, msg any) error {
	body, err := protocol.Encode(msgType, msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(body, '\n'))
	return err
}

func decodeServerError(frame protocol.Frame) error {
	var m protocol.ErrorMessage
	json.Unmarshal(frame.Raw, &m)
	code := 3
	if m.Code == protocol.CodeNodeInvokeTimeout {
		code = 4
	}
	return &exitErr{code: code, err: fmt.Errorf("gateway: %s", m.Message)}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show cluster-wide node and workload counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.GatewayStatusPayload
		if err := request(addr, protocol.TypeGetStatus, struct{}{}, &resp); err != nil {
			return err
		}
		fmt.Printf("nodes: %d (healthy: %d)\nworkloads: %d\n", resp.NodeCount, resp.HealthyNodes, resp.WorkloadCount)
		return nil
	},
}

var nodesCmd = &cobra.Command{Use: "nodes", Short: "inspect and manage registered nodes"}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "list registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		health, _ := cmd.Flags().GetString("health")
		var resp protocol.ListNodesResponse
		if err := request(addr, protocol.TypeListNodes, protocol.ListNodesRequest{HealthFilter: health}, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tHEALTH\tGPUS\tLAST HEARTBEAT")
		for _, n := range resp.Nodes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.ID, n.Name, n.Health, n.Capabilities.GPUCount, n.LastHeartbeat.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var nodesGetCmd = &cobra.Command{
	Use:   "get <node-id>",
	Short: "show one node's detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.NodePayload
		if err := request(addr, protocol.TypeGetNode, protocol.GetNodeRequest{NodeID: args[0]}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var nodesDrainCmd = &cobra.Command{
	Use:   "drain <node-id> [true|false]",
	Short: "toggle a node's drain flag",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		drain := true
		if len(args) == 2 {
			drain = strings.EqualFold(args[1], "true")
		}
		var resp protocol.NodePayload
		if err := request(addr, protocol.TypeDrainNode, protocol.DrainNodeRequest{NodeID: args[0], Drain: drain}, &resp); err != nil {
			return err
		}
		fmt.Printf("node %s drain=%v\n", resp.ID, drain)
		return nil
	},
}

var workloadsCmd = &cobra.Command{Use: "workloads", Short: "start, stop and inspect workloads"}

var workloadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.ListWorkloadsResponse
		if err := request(addr, protocol.TypeListWorkloads, struct{}{}, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tIMAGE\tSTATE\tNODE\tGATES")
		for _, w := range resp.Workloads {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", w.ID, w.Spec.Image, w.State, w.NodeID, len(w.Gates))
		}
		return tw.Flush()
	},
}

var workloadsGetCmd = &cobra.Command{
	Use:   "get <workload-id>",
	Short: "show one workload's detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.WorkloadPayload
		if err := request(addr, protocol.TypeGetWorkload, protocol.GetWorkloadRequest{WorkloadID: args[0]}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var workloadsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "start a workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		image, _ := cmd.Flags().GetString("image")
		command, _ := cmd.Flags().GetStringSlice("command")
		gpuCount, _ := cmd.Flags().GetInt("gpu-count")
		memoryMiB, _ := cmd.Flags().GetInt64("memory-mib")
		cpuCores, _ := cmd.Flags().GetFloat64("cpu-cores")
		preferredNode, _ := cmd.Flags().GetString("preferred-node")
		if image == "" {
			return &exitErr{code: 2, err: fmt.Errorf("--image is required")}
		}

		req := protocol.StartWorkloadRequestMessage{
			Spec: protocol.WorkloadSpecPayload{
				Image:     image,
				Command:   command,
				GPUCount:  gpuCount,
				MemoryMiB: memoryMiB,
				CPUCores:  cpuCores,
			},
			PreferredNode: preferredNode,
		}
		var resp protocol.StartWorkloadResponse
		if err := request(addr, protocol.TypeStartWorkloadRequest, req, &resp); err != nil {
			return err
		}
		fmt.Printf("workload %s started\n", resp.WorkloadID)
		return nil
	},
}

var workloadsStopCmd = &cobra.Command{
	Use:   "stop <workload-id>",
	Short: "stop a workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		grace, _ := cmd.Flags().GetInt("grace-period-secs")
		if err := request(addr, protocol.TypeStopWorkloadRequest, protocol.StopWorkloadRequestMessage{
			WorkloadID:      args[0],
			GracePeriodSecs: grace,
		}, nil); err != nil {
			return err
		}
		fmt.Printf("workload %s stopping\n", args[0])
		return nil
	},
}

var workloadsLogsCmd = &cobra.Command{
	Use:   "logs <workload-id>",
	Short: "fetch buffered log lines for a workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		tail, _ := cmd.Flags().GetInt("tail")
		req := protocol.GetLogsRequest{WorkloadID: args[0]}
		if tail > 0 {
			req.Tail = &tail
		}
		var resp protocol.GetLogsResponse
		if err := request(addr, protocol.TypeGetLogs, req, &resp); err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

var gatesCmd = &cobra.Command{Use: "gates", Short: "inspect and clear scheduling gates"}

var gatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "list every workload's open scheduling gates",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.ListGatesResponse
		if err := request(addr, protocol.TypeListGates, struct{}{}, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKLOAD\tGATE\tREASON")
		for id, gates := range resp.Gates {
			for _, g := range gates {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, g.Name, g.Reason)
			}
		}
		return tw.Flush()
	},
}

var gatesClearCmd = &cobra.Command{
	Use:   "clear <workload-id> <gate-name>",
	Short: "clear a named scheduling gate on a workload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if err := request(addr, protocol.TypeClearGate, protocol.ClearGateRequest{
			WorkloadID: args[0],
			GateName:   args[1],
		}, nil); err != nil {
			return err
		}
		fmt.Printf("gate %q cleared on workload %s\n", args[1], args[0])
		return nil
	},
}

var meshCmd = &cobra.Command{Use: "mesh", Short: "inspect the WireGuard workload mesh"}

var meshStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "show tunnel status",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		tunnel, _ := cmd.Flags().GetString("tunnel")
		var resp protocol.MeshStatusResponse
		if err := request(addr, protocol.TypeMeshStatus, protocol.MeshStatusRequest{TunnelName: tunnel}, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TUNNEL\tPORT\tSTATE\tPEERS")
		for _, t := range resp.Tunnels {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", t.Name, t.ListenPort, t.State, t.PeerCount)
		}
		return tw.Flush()
	},
}

var meshPeersCmd = &cobra.Command{
	Use:   "peers <node-id>",
	Short: "show the WireGuard peer set configured for one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.MeshPeersResponse
		if err := request(addr, protocol.TypeMeshPeers, protocol.MeshPeersRequest{NodeID: args[0]}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var meshNodeCmd = &cobra.Command{
	Use:   "node <node-id>",
	Short: "show one node's mesh membership",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.MeshNodeResponse
		if err := request(addr, protocol.TypeMeshNode, protocol.MeshNodeRequest{NodeID: args[0]}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <node-id> <command>",
	Short: "run an out-of-band command on a node and wait for its reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		paramsRaw, _ := cmd.Flags().GetString("params")
		timeoutMs, _ := cmd.Flags().GetInt("timeout-ms")

		var resp protocol.NodeInvokeResponse
		if err := request(addr, protocol.TypeNodeInvoke, protocol.NodeInvokeRequest{
			NodeID:    args[0],
			Command:   args[1],
			Params:    json.RawMessage(paramsRaw),
			TimeoutMs: timeoutMs,
		}, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return &exitErr{code: 3, err: fmt.Errorf("%s", resp.Error)}
		}
		fmt.Println(string(resp.Output))
		return nil
	},
}

var alertsCmd = &cobra.Command{Use: "alerts", Short: "manage and inspect alert rules"}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list currently tracked alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		var resp protocol.ListAlertsResponse
		if err := request(addr, protocol.TypeListAlerts, struct{}{}, &resp); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tRULE\tSTATE\tVALUE\tSTARTED")
		for _, a := range resp.Alerts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\n", a.ID, a.RuleID, a.State, a.Value, a.StartedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var alertsPutRuleCmd = &cobra.Command{
	Use:   "put-rule",
	Short: "create or replace an alert rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		name, _ := cmd.Flags().GetString("name")
		metric, _ := cmd.Flags().GetString("metric")
		comparator, _ := cmd.Flags().GetString("comparator")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		forSecs, _ := cmd.Flags().GetInt("for-secs")
		severity, _ := cmd.Flags().GetString("severity")
		enabled, _ := cmd.Flags().GetBool("enabled")
		if name == "" || metric == "" {
			return &exitErr{code: 2, err: fmt.Errorf("--name and --metric are required")}
		}
		req := protocol.PutAlertRuleRequest{Rule: protocol.AlertRulePayload{
			Name:       name,
			MetricName: metric,
			Comparator: comparator,
			Threshold:  threshold,
			ForSeconds: forSecs,
			Severity:   severity,
			Enabled:    enabled,
		}}
		var resp protocol.PutAlertRuleResponse
		if err := request(addr, protocol.TypePutAlertRule, req, &resp); err != nil {
			return err
		}
		fmt.Printf("alert rule %s saved\n", resp.RuleID)
		return nil
	},
}

var rollbackCmd = &cobra.Command{Use: "rollback", Short: "plan and execute deployment rollbacks"}

var rollbackPlanCmd = &cobra.Command{
	Use:   "plan <current-deployment-id>",
	Short: "plan a rollback from the current deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		target, _ := cmd.Flags().GetString("target")
		req := protocol.PlanRollbackRequest{Current: args[0]}
		if target != "" {
			req.Target = &target
		}
		var resp protocol.PlanRollbackResponse
		if err := request(addr, protocol.TypePlanRollback, req, &resp); err != nil {
			return err
		}
		printJSON(resp.Plan)
		return nil
	},
}

var rollbackExecuteCmd = &cobra.Command{
	Use:   "execute <from-deployment-id> <to-deployment-id>",
	Short: "execute a rollback plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		id, _ := cmd.Flags().GetString("id")
		trigger, _ := cmd.Flags().GetString("trigger")
		strategy, _ := cmd.Flags().GetString("strategy")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		req := protocol.ExecuteRollbackRequest{Plan: protocol.RollbackPlanPayload{
			ID:           id,
			From:         args[0],
			To:           args[1],
			TriggerKind:  trigger,
			StrategyKind: strategy,
			BatchSize:    batchSize,
			DryRun:       dryRun,
		}}
		var resp protocol.ExecuteRollbackResponse
		if err := request(addr, protocol.TypeExecuteRollback, req, &resp); err != nil {
			return err
		}
		fmt.Printf("rollback success=%v duration=%dms %s\n", resp.Success, resp.DurationMs, resp.Details)
		return nil
	},
}

func printJSON(v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "clawctl: failed to render response: %v\n", err)
		return
	}
	fmt.Println(string(body))
}
