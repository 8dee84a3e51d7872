package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/pkg/datagram"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publisher <HOST:PORT> <TOPIC> <TYPE> <VALUE>",
		Short: "Send typed datagrams to a broker",
		Long: `publisher encodes one datagram and sends it to the broker's UDP port.

TYPE is one of INT, SHORT_REAL, FLOAT or STRING. Examples:

  publisher 127.0.0.1:4000 sensors/k/temp FLOAT 21.75
  publisher 127.0.0.1:4000 doors/front STRING open
  publisher --count 5 127.0.0.1:4000 sensors/k/temp FLOAT -3.25

Flags go before HOST:PORT; everything after it is taken as an argument, so negative
values need no quoting.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := datagram.Parse(args[1], args[2], args[3])
			if err != nil {
				return err
			}
			n, err := publish(cmd.Context(), args[0], d, count, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d datagram(s) to %s\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().SetInterspersed(false)
	cmd.Flags().IntVar(&count, "count", 1, "Number of datagrams to send")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between datagrams")
	return cmd
}

// publish sends d count times and returns how many were written.
func publish(ctx context.Context, addr string, d datagram.Datagram, count int, interval time.Duration) (int, error) {
	raw, err := datagram.Encode(d)
	if err != nil {
		return 0, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	sent := 0
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interval):
			}
		}
		if _, err := conn.Write(raw); err != nil {
			return sent, fmt.Errorf("send: %w", err)
		}
		sent++
	}
	return sent, nil
}
