package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	seriallink "github.com/luhtfiimanal/go-serial-link"
	"github.com/luhtfiimanal/go-serial-link/frame"
)

var (
	sendType   string
	sendFields []string
	sendListen time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send one message and optionally print replies",
	Long: `Send a single message on the link.

With lines framing the text argument is sent followed by the delimiter.
With packet framing the message is built from --type and --field key=value
pairs; values that parse as integers are sent as integers.

Examples:
  seriallink send -p /dev/ttyUSB0 "C,START"
  seriallink send -p /dev/ttyACM0 --framing packet --type 0x13 --field 1=500 --listen 2s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", "0", "Packet message type (packet framing)")
	sendCmd.Flags().StringArrayVar(&sendFields, "field", nil, "Packet field as key=value (repeatable)")
	sendCmd.Flags().DurationVar(&sendListen, "listen", 0, "Print received messages for this long after sending")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, _, err := linkConfig(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch framing {
	case "lines":
		if len(args) == 0 {
			return fmt.Errorf("lines framing needs a text argument")
		}
		return runLink(cfg, newLineFramer(),
			func(line string) { fmt.Fprintln(out, formatLine(line)) },
			func(conn *seriallink.Connection[string]) error {
				if err := conn.Send(args[0]); err != nil {
					return err
				}
				time.Sleep(sendListen)
				return nil
			})
	case "packet":
		p, err := buildPacket(sendType, sendFields)
		if err != nil {
			return err
		}
		return runLink(cfg, frame.NewCodec(),
			func(reply *frame.Packet) { fmt.Fprintln(out, formatPacket(reply)) },
			func(conn *seriallink.Connection[*frame.Packet]) error {
				if err := conn.Send(p); err != nil {
					return err
				}
				time.Sleep(sendListen)
				return nil
			})
	default:
		return fmt.Errorf("unknown framing %q (use lines or packet)", framing)
	}
}

// buildPacket parses a message type and key=value fields.
func buildPacket(msgType string, fields []string) (*frame.Packet, error) {
	t, err := strconv.ParseUint(msgType, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid type %q: %w", msgType, err)
	}
	p := &frame.Packet{Type: uint8(t)}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q (want key=value)", f)
		}
		k, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid field key %q: %w", key, err)
		}
		if p.Fields == nil {
			p.Fields = make(map[int]any)
		}
		if n, err := strconv.ParseInt(value, 0, 64); err == nil {
			p.Fields[k] = n
		} else {
			p.Fields[k] = value
		}
	}
	return p, nil
}
