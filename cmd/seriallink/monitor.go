package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	seriallink "github.com/luhtfiimanal/go-serial-link"
	"github.com/luhtfiimanal/go-serial-link/frame"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every framed message received on the link",
	Long: `Open the link and print each message as it arrives until interrupted.

Corrupt packets are reported on stderr and skipped.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	cfg, info, err := linkConfig(reg)
	if err != nil {
		return err
	}
	serveMetrics(ctx, reg)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "seriallink monitor\nConnection: %s\nPress Ctrl+C to exit\n\n", info)

	wait := func() error {
		<-ctx.Done()
		return nil
	}

	switch framing {
	case "lines":
		return runLink(cfg, newLineFramer(),
			func(line string) { fmt.Fprintln(out, formatLine(line)) },
			func(*seriallink.Connection[string]) error { return wait() })
	case "packet":
		codec := frame.NewCodec()
		codec.OnError = func(err error) { logger.Warn("Dropped packet", "error", err) }
		return runLink(cfg, codec,
			func(p *frame.Packet) { fmt.Fprintln(out, formatPacket(p)) },
			func(*seriallink.Connection[*frame.Packet]) error { return wait() })
	default:
		return fmt.Errorf("unknown framing %q (use lines or packet)", framing)
	}
}
