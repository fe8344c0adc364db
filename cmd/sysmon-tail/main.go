// Package main implements sysmon-tail, a terminal client that connects to a
// running sysmonitord and prints a summary of every snapshot it pushes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kuhl33d/ODC-Embedded-Linux/daemon"
)

const appName = "sysmon-tail"

type options struct {
	URL         string
	Top         int
	Once        bool
	Check       bool
	DialTimeout time.Duration
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", appName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tail(ctx, opts, os.Stdout, logger); err != nil {
		logger.Error("Tail failed", "url", opts.URL, "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.URL, "url", "ws://localhost:8765/ws", "sysmonitord WebSocket URL")
	fs.IntVar(&opts.Top, "top", 5, "Number of processes to print per snapshot")
	fs.BoolVar(&opts.Once, "once", false, "Exit after the first snapshot")
	fs.BoolVar(&opts.Check, "check", false, "Validate every message against the message schema")
	fs.DurationVar(&opts.DialTimeout, "dial-timeout", 5*time.Second, "Connection timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.Top < 0 {
		opts.Top = 0
	}
	return opts, nil
}

// tail reads messages until ctx is done, the server goes away, or -once is
// satisfied.
func tail(ctx context.Context, opts *options, w io.Writer, logger *slog.Logger) error {
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	logger.Info("Connected", "url", opts.URL)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if opts.Check {
			if err := daemon.ValidateMessage(data); err != nil {
				logger.Warn("Message failed schema check", "error", err, "size", len(data))
			}
		}

		var msg daemon.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("Undecodable message", "error", err, "size", len(data))
			continue
		}
		_, _ = io.WriteString(w, formatSummary(&msg, opts.Top))

		if opts.Once {
			return nil
		}
	}
}

// formatSummary renders one snapshot as a few lines of text.
func formatSummary(msg *daemon.Message, top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  cpu %5.1f%%  mem %5.1f%% (%s / %s)  history %d\n",
		msg.Timestamp,
		msg.CPUAverage,
		msg.Memory.Percent,
		msg.Memory.UsedFormatted,
		msg.Memory.TotalFormatted,
		len(msg.History.CPU))

	n := min(top, len(msg.Processes))
	for _, p := range msg.Processes[:n] {
		fmt.Fprintf(&b, "  %7d %-16s %s %5d%% %10s\n", p.PID, p.Name, p.State, p.CPUUsage, p.MemoryFormatted)
	}
	return b.String()
}
