package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	driver   string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Framing flags
	framing   string
	delimiter string

	configPath  string
	metricsAddr string
	logLevel    string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "seriallink",
	Short: "Framed message transport over a serial line",
	Long: `seriallink opens a serial device in raw mode and exchanges framed messages.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200] [--driver native|portable]
  WebSocket: --url ws://host/path [--username user]

Framing:
  lines   delimiter separated text (--delimiter '\r\n', escapes expanded)
  packet  byte-stuffed CBOR packets with CRC-16

Flags may also be set in a YAML file given with --config; flags given on
the command line win. The WebSocket password is read from SERIALLINK_PASSWORD
or prompted for.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate")
	flags.StringVar(&driver, "driver", "native", "Serial backend: native (termios) or portable (go.bug.st/serial)")

	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.StringVar(&framing, "framing", "lines", "Message framing: lines or packet")
	flags.StringVar(&delimiter, "delimiter", "\r\n", "Line delimiter for lines framing; escapes like \\r\\n are expanded")

	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func setup(cmd *cobra.Command, _ []string) error {
	if configPath != "" {
		if err := applyConfigFile(cmd, configPath); err != nil {
			return err
		}
	}

	d, err := parseDelimiter(delimiter)
	if err != nil {
		return err
	}
	delimiter = d

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
