package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/node"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/runtime"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawnode",
	Short: "clawnode runs the per-host agent that executes GPU workloads",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("name", "", "node name advertised to the gateway (defaults to hostname)")
	startCmd.Flags().String("gateway-addr", "127.0.0.1:7780", "node-facing address of clawgate")
	startCmd.Flags().Int("gpu-count", 0, "number of GPUs this host exposes to the scheduler")
	startCmd.Flags().Int64("vram-mib", 0, "total VRAM across this host's GPUs, in MiB")
	startCmd.Flags().Int("cpu-cores", 0, "CPU cores this host exposes to the scheduler")
	startCmd.Flags().Int64("memory-mib", 0, "memory this host exposes to the scheduler, in MiB")
	startCmd.Flags().String("containerd-socket", "", "containerd socket path; empty uses an in-memory fake runtime")
	startCmd.Flags().Bool("mesh-enabled", false, "join the WireGuard workload mesh")
	startCmd.Flags().Bool("mesh-fake", false, "use an in-memory fake WireGuard interface instead of wgctrl (development only)")

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "connect to a gateway and start serving workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			hostname, err := os.Hostname()
			if err != nil {
				return fmt.Errorf("clawnode: resolve hostname: %w", err)
			}
			name = hostname
		}
		gatewayAddr, _ := cmd.Flags().GetString("gateway-addr")
		gpuCount, _ := cmd.Flags().GetInt("gpu-count")
		vramMiB, _ := cmd.Flags().GetInt64("vram-mib")
		cpuCores, _ := cmd.Flags().GetInt("cpu-cores")
		memoryMiB, _ := cmd.Flags().GetInt64("memory-mib")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		meshEnabled, _ := cmd.Flags().GetBool("mesh-enabled")
		meshFake, _ := cmd.Flags().GetBool("mesh-fake")

		var rt runtime.AsyncContainerRuntime
		if containerdSocket != "" {
			cr, err := runtime.NewContainerdRuntime(containerdSocket)
			if err != nil {
				return fmt.Errorf("clawnode: connect to containerd at %s: %w", containerdSocket, err)
			}
			rt = cr
		} else {
			rt = runtime.NewFakeRuntime()
		}

		var meshMgr *mesh.Manager
		if meshEnabled {
			var iface mesh.Interface
			var err error
			if meshFake {
				iface = mesh.NewFakeInterface()
			} else {
				iface, err = mesh.NewWGCtrlInterface()
				if err != nil {
					return fmt.Errorf("clawnode: open wireguard control interface: %w", err)
				}
			}
			meshMgr, err = mesh.NewManager(iface, mesh.DefaultManagerConfig())
			if err != nil {
				return fmt.Errorf("clawnode: start mesh manager: %w", err)
			}
		}

		conn, err := net.Dial("tcp", gatewayAddr)
		if err != nil {
			return fmt.Errorf("clawnode: dial gateway at %s: %w", gatewayAddr, err)
		}
		defer conn.Close()

		client := newGatewayClient(conn)
		agent := node.NewAgent(rt, client, gpuCount, meshMgr, node.Config{WorkloadNetworkEnabled: meshEnabled})

		caps := protocol.CapabilitiesPayload{
			GPUCount:    gpuCount,
			VRAMMiB:     vramMiB,
			CPUCores:    cpuCores,
			MemoryMiB:   memoryMiB,
			RuntimeKind: "containerd",
		}
		if containerdSocket == "" {
			caps.RuntimeKind = "fake"
		}

		if err := client.register(name, caps); err != nil {
			return fmt.Errorf("clawnode: register with gateway: %w", err)
		}
		fmt.Printf("clawnode %q registered as %s, connected to %s\n", name, client.nodeID, gatewayAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 2)
		go func() {
			errCh <- client.readLoop(ctx, agent)
		}()
		go client.heartbeatLoop(ctx, errCh)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nconnection to gateway lost: %v\n", err)
		}
		cancel()
		return nil
	},
}

// gatewayClient implements node.UpdateSink over a single TCP connection to
// clawgate's node-facing socket: it serializes outbound frames and decodes
// inbound ones for the caller's readLoop to dispatch to the agent.
type gatewayClient struct {
	conn    net.Conn
	writeMu sync.Mutex

	nodeID types.NodeID
}

func newGatewayClient(conn net.Conn) *gatewayClient {
	return &gatewayClient{conn: conn}
}

func (c *gatewayClient) send(msgType protocol.MessageType, msg any) error {
	body, err := protocol.Encode(msgType, msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(append(body, '\n'))
	return err
}

func (c *gatewayClient) register(name string, caps protocol.CapabilitiesPayload) error {
	if err := c.send(protocol.TypeRegister, protocol.RegisterMessage{
		NodeName:     name,
		Capabilities: caps,
		ProtocolVer:  protocol.ProtocolVersion,
	}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(c.conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return fmt.Errorf("clawnode: gateway closed connection before acknowledging register")
	}
	frame, err := protocol.Decode(scanner.Bytes())
	if err != nil {
		return err
	}
	switch frame.Type {
	case protocol.TypeRegistered:
		var m protocol.RegisteredMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return err
		}
		c.nodeID = types.NodeID(m.NodeID)
		return nil
	case protocol.TypeError:
		var m protocol.ErrorMessage
		json.Unmarshal(frame.Raw, &m)
		return fmt.Errorf("gateway rejected register: %s", m.Message)
	default:
		return fmt.Errorf("clawnode: unexpected reply to register: %s", frame.Type)
	}
}

// WorkloadUpdate implements node.UpdateSink.
func (c *gatewayClient) WorkloadUpdate(msg protocol.WorkloadUpdateMessage) {
	if err := c.send(protocol.TypeWorkloadUpdate, msg); err != nil {
		log.WithComponent("clawnode").Warn().Err(err).Msg("failed to send workload update")
	}
}

// WorkloadLogs implements node.UpdateSink.
func (c *gatewayClient) WorkloadLogs(msg protocol.WorkloadLogsMessage) {
	if err := c.send(protocol.TypeWorkloadLogs, msg); err != nil {
		log.WithComponent("clawnode").Warn().Err(err).Msg("failed to send workload logs")
	}
}

func (c *gatewayClient) heartbeatLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(protocol.TypeHeartbeat, protocol.HeartbeatMessage{
				NodeID: string(c.nodeID),
				At:     time.Now(),
			}); err != nil {
				errCh <- fmt.Errorf("heartbeat: %w", err)
				return
			}
		}
	}
}

// readLoop consumes gateway-initiated frames (heartbeat_ack, start_workload,
// stop_workload, node_invoke) until the connection closes or ctx is
// cancelled. node_invoke is answered with a "not implemented" error result;
// any other frame type, mesh_peer_config and mesh_peer_remove included, is
// logged as unexpected and skipped.
func (c *gatewayClient) readLoop(ctx context.Context, agent *node.Agent) error {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			continue
		}

		switch frame.Type {
		case protocol.TypeHeartbeatAck:
			// nothing to do; round-trip confirms liveness

		case protocol.TypeStartWorkload:
			var m protocol.StartWorkloadMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			spec := types.WorkloadSpec{
				Image:   m.Spec.Image,
				Command: m.Spec.Command,
				Env:     m.Spec.Env,
				Asks: types.ResourceAsk{
					GPUCount:  m.Spec.GPUCount,
					MemoryMiB: m.Spec.MemoryMiB,
					CPUCores:  m.Spec.CPUCores,
				},
				Labels: m.Spec.Labels,
			}
			go agent.StartWorkload(context.Background(), types.WorkloadID(m.WorkloadID), spec)

		case protocol.TypeStopWorkload:
			var m protocol.StopWorkloadMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			go agent.StopWorkload(context.Background(), types.WorkloadID(m.WorkloadID), m.GracePeriodSecs)

		case protocol.TypeNodeInvoke:
			var m protocol.NodeInvokeMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			c.send(protocol.TypeNodeInvokeResult, protocol.NodeInvokeResultMessage{
				NodeID:  m.NodeID,
				Command: m.Command,
				Error:   fmt.Sprintf("command %q not implemented on this node", m.Command),
			})

		default:
			log.WithComponent("clawnode").Warn().Str("type", string(frame.Type)).Msg("unexpected frame from gateway")
		}
	}
	return scanner.Err()
}
