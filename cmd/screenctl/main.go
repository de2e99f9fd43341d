// Command screenctl talks to a running screensync daemon and inspects
// frame captures.
//
//	screenctl [flags] status|resync|shutdown|watch|shell
//	screenctl [flags] mode <name|next>
//	screenctl [flags] screen <action>
//	screenctl inspect [-session id] [-seq n] [-out dir] <capture>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"screensync/internal/hardware/comm"
	"screensync/internal/ipc"
	"screensync/internal/management"
	"screensync/pkg/types"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: screenctl [flags] <command> [args]

Commands:
  status              Show coordinator and provider status
  resync              Request an immediate screen sync
  mode <name|next>    Switch display mode (dashboard, image, animation)
  screen <action>     Send a screen command (up, down, switch, reset,
                      clear_image, clear_animation)
  shutdown            Stop the daemon
  watch               Print daemon events until interrupted
  shell               Interactive session
  inspect <capture>   List or export frames from a frame log

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		address = flag.String("address", "127.0.0.1", "Daemon IPC address")
		port    = flag.Int("port", 7465, "Daemon IPC port")
		timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "inspect" {
		if err := runInspect(os.Stdout, args); err != nil {
			fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := types.IPCConfig{Address: *address, Port: *port, Timeout: *timeout}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if cmd == "shell" {
		err = runShell(ctx, cfg)
	} else {
		err = runOnce(ctx, cfg, cmd, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg types.IPCConfig, cmd string, args []string) error {
	client := ipc.NewIPCClient(cfg)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()
	return execute(ctx, os.Stdout, client, cmd, args)
}

// execute runs one daemon command and prints the outcome to out.
func execute(ctx context.Context, out io.Writer, client *ipc.IPCClient, cmd string, args []string) error {
	switch cmd {
	case "status":
		reply, err := client.Request(ctx, types.MsgStatus, nil)
		if err != nil {
			return err
		}
		var report management.StatusReport
		if err := ipc.FromData(reply.Data, &report); err != nil {
			return err
		}
		printStatus(out, report)
		return nil

	case "resync":
		if _, err := client.Request(ctx, types.MsgResync, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "resync queued")
		return nil

	case "mode":
		name := "next"
		if len(args) > 0 {
			name = args[0]
		}
		if _, err := client.Request(ctx, types.MsgMode, map[string]interface{}{"mode": name}); err != nil {
			return err
		}
		fmt.Fprintf(out, "mode %s queued\n", name)
		return nil

	case "screen":
		if len(args) != 1 {
			return fmt.Errorf("usage: screen <%s>", strings.Join(comm.ScreenActions(), "|"))
		}
		reply, err := client.Request(ctx, types.MsgScreen, map[string]interface{}{"action": args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%v queued\n", reply.Data["command"])
		return nil

	case "shutdown":
		if _, err := client.Request(ctx, types.MsgShutdown, nil); err != nil && !errors.Is(err, ipc.ErrNotConnected) {
			return err
		}
		fmt.Fprintln(out, "shutdown requested")
		return nil

	case "watch":
		return watch(ctx, out, client)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func watch(ctx context.Context, out io.Writer, client *ipc.IPCClient) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-client.Events():
			if !ok {
				return ipc.ErrNotConnected
			}
			var ev types.Event
			if err := ipc.FromData(msg.Data, &ev); err != nil {
				fmt.Fprintf(out, "undecodable event: %v\n", err)
				continue
			}
			fmt.Fprintln(out, formatEvent(ev))
		}
	}
}

func formatEvent(ev types.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-16s %-14s %s", ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.Source, ev.Message)
	if ev.State != "" {
		fmt.Fprintf(&b, " state=%s", ev.State)
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, ev.Fields[k])
	}
	return b.String()
}

func printStatus(out io.Writer, r management.StatusReport) {
	c := r.Coordinator
	fmt.Fprintf(out, "State:        %s\n", c.State)
	fmt.Fprintf(out, "Mode:         %s\n", c.Mode)
	fmt.Fprintf(out, "Connected:    %v\n", c.Connected)
	if c.Connected {
		fmt.Fprintf(out, "Device:       %s %s (firmware %d)\n", c.Device.Transport, c.Device.Path, c.Device.Firmware)
	}
	if !c.LastSync.IsZero() {
		fmt.Fprintf(out, "Last sync:    %s (%s ago)\n", c.LastSync.Format(time.RFC3339), time.Since(c.LastSync).Round(time.Second))
	}
	fmt.Fprintf(out, "Uploads:      %d sent, %d skipped, %d coalesced\n", c.Uploads, c.SkippedUploads, c.Coalesced)
	if c.PendingRetry {
		fmt.Fprintln(out, "Retry:        pending")
	}
	if c.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s (%d consecutive)\n", c.LastError, c.ConsecutiveFailures)
	}

	fmt.Fprintln(out, "Telemetry:")
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := r.Fields[name]
		line := fmt.Sprintf("  %-14s %s", name, f.State)
		if f.Age > 0 {
			line += fmt.Sprintf(" (%s old)", f.Age.Round(time.Second))
		}
		if f.LastError != "" {
			line += " error: " + f.LastError
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Providers:    %s\n", strings.Join(r.Providers, ", "))
	fmt.Fprintf(out, "Subscribers:  %d (%d events dropped)\n", r.Subscribers, r.DroppedEvents)
}
