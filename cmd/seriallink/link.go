package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	seriallink "github.com/luhtfiimanal/go-serial-link"
	"github.com/luhtfiimanal/go-serial-link/frame"
)

// maxLineLength bounds a line that never sees its delimiter.
const maxLineLength = 32 * seriallink.DefaultBufferSize

func newLineFramer() *frame.Lines {
	return frame.NewLines(delimiter, maxLineLength)
}

// parseDelimiter expands escape sequences such as \r and \n typed on the
// command line. A value without a backslash is used as is.
func parseDelimiter(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	d, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid delimiter %q: %w", s, err)
	}
	return d, nil
}

// linkConfig builds the connection config from the flags and returns a
// description of the link for display.
func linkConfig(reg prometheus.Registerer) (seriallink.Config, string, error) {
	cfg := seriallink.Config{
		BaudRate:   baudRate,
		Logger:     logger.With("component", "seriallink"),
		Registerer: reg,
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			if password, err = getPassword(); err != nil {
				return cfg, "", err
			}
		}
		cfg.Device = wsURL
		cfg.Opener = webSocketOpener(wsUsername, password, wsNoSSLVerify)
		cfg.Logger = cfg.Logger.With("device", wsURL)
		return cfg, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName == "" {
		return cfg, "", errors.New("either --port or --url must be specified")
	}
	cfg.Device = portName
	cfg.Logger = cfg.Logger.With("device", portName)

	switch driver {
	case "native":
	case "portable":
		cfg.Opener = seriallink.OpenPortable
	default:
		return cfg, "", fmt.Errorf("unknown driver %q (use native or portable)", driver)
	}
	return cfg, fmt.Sprintf("Serial: %s @ %d baud (%s)", portName, baudRate, driver), nil
}

// serveMetrics exposes reg on metricsAddr until ctx is done.
func serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	if metricsAddr == "" {
		return
	}
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", metricsAddr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("Serving metrics", "addr", metricsAddr)
}

// runLink starts a connection, calls use with it, and stops it when use
// returns.
func runLink[M any](cfg seriallink.Config, framer seriallink.Framer[M], sink seriallink.MessageSink[M], use func(*seriallink.Connection[M]) error) error {
	conn := seriallink.New(cfg, framer, sink)
	if err := conn.Start(); err != nil {
		return err
	}
	defer conn.Stop()
	return use(conn)
}

func formatLine(line string) string {
	return fmt.Sprintf("[%s] %q", time.Now().Format("15:04:05.000"), line)
}

func formatPacket(p *frame.Packet) string {
	keys := make([]int, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] type=0x%02X", time.Now().Format("15:04:05.000"), p.Type)
	for _, k := range keys {
		fmt.Fprintf(&b, " %d=%v", k, p.Fields[k])
	}
	return b.String()
}
