package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/pkg/subscriber"
	"github.com/spf13/cobra"
)

const usage = `commands: subscribe <topic> | unsubscribe <topic> | exit`

func newRootCommand(in io.Reader) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "subscriber <ID> <SERVER_IP> <SERVER_PORT>",
		Short: "Interactive subscriber for the topic relay",
		Long: `subscriber connects to a broker under the given identity and prints every relayed
message on its own line. Reads commands from standard input:

  subscribe <topic>     add a topic pattern (+ matches one level, * any number)
  unsubscribe <topic>   remove a pattern exactly as it was subscribed
  exit                  disconnect and quit`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			config := subscriber.Config{
				ServerAddr: net.JoinHostPort(args[1], args[2]),
				ClientID:   args[0],
				Timeout:    timeout,
			}
			return runConsole(ctx, config, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connect and request timeout")
	return cmd
}

// console serializes output from the message printer and the command loop.
type console struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

func (c *console) println(w io.Writer, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, format+"\n", args...)
}

// runConsole connects and serves standard input commands until exit, end of input, ctx
// cancellation or the broker closing the connection.
func runConsole(ctx context.Context, config subscriber.Config, in io.Reader, out, errOut io.Writer) error {
	client, err := subscriber.Dial(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	con := &console{out: out, err: errOut}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for m := range client.Messages() {
			con.println(out, "%s", m.Text)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-client.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			<-printed
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, client, con, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, client *subscriber.Client, con *console, line string) bool {
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch {
	case verb == "exit" && arg == "":
		return true
	case verb == "subscribe" && arg != "":
		if err := client.Subscribe(ctx, arg); err != nil {
			con.println(con.err, "Subscribe to %s failed: %v", arg, err)
			return false
		}
		con.println(con.out, "Subscribed to topic %s.", arg)
	case verb == "unsubscribe" && arg != "":
		if err := client.Unsubscribe(ctx, arg); err != nil {
			con.println(con.err, "Unsubscribe from %s failed: %v", arg, err)
			return false
		}
		con.println(con.out, "Unsubscribed from topic %s.", arg)
	case line == "":
	default:
		con.println(con.err, "%s", usage)
	}
	return false
}
