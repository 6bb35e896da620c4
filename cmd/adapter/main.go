// Command adapter runs a simulated EtherNet/IP adapter: it accepts a single
// scanner's TCP session, negotiates a Class-1 I/O connection via Forward
// Open, and streams cyclic data back over UDP at the negotiated RPI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/internal/telemetry"
	"github.com/fieldspan/enip-adapter/pkg/adapter"
	"github.com/fieldspan/enip-adapter/pkg/identity"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host         string
		tcpPort      uint16
		udpPort      uint16
		metricsAddr  string
		identityFile string
		logLevel     string
		mqttBroker   string
	)

	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Simulated EtherNet/IP adapter (device side)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := internal.NewZapLogger(logLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			id, err := identity.Load(identityFile)
			if err != nil {
				return err
			}

			pub, err := telemetry.NewPublisher(mqttBroker, "enip-adapter", "enip/adapter/events", logger)
			if err != nil {
				return fmt.Errorf("mqtt telemetry: %w", err)
			}

			a := adapter.New(adapter.Config{
				Host:        host,
				TCPPort:     tcpPort,
				UDPPort:     udpPort,
				MetricsAddr: metricsAddr,
				Identity:    id,
				Logger:      logger,
				Telemetry:   pub,
			})

			if err := a.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Infof("shutting down")
			return a.Stop()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "0.0.0.0", "address to bind TCP and UDP listeners on")
	flags.Uint16Var(&tcpPort, "tcp-port", 44818, "TCP port for ENIP explicit messaging")
	flags.Uint16Var(&udpPort, "udp-port", 2222, "UDP port for CIP Class-1 cyclic I/O")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address for the optional /metrics, /healthz, /status HTTP listener (disabled if empty)")
	flags.StringVar(&identityFile, "identity-file", "", "optional YAML file overriding the simulated device identity")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&mqttBroker, "mqtt-broker", "", "optional MQTT broker URL for lifecycle telemetry (disabled if empty)")

	return cmd
}
