package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"screensync/internal/hardware/comm"
	"screensync/internal/ipc"
	"screensync/internal/logging"
	"screensync/pkg/types"
)

// runShell reads commands interactively and prints daemon events as they
// arrive.
func runShell(ctx context.Context, cfg types.IPCConfig) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "screensync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("resync"),
			readline.PcItem("mode",
				readline.PcItem("next"),
				readline.PcItem(string(types.ModeDashboard)),
				readline.PcItem(string(types.ModeImage)),
				readline.PcItem(string(types.ModeAnimation)),
			),
			readline.PcItem("screen", screenItems()...),
			readline.PcItem("events", readline.PcItem("on"), readline.PcItem("off")),
			readline.PcItem("shutdown"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// client logs must not garble the prompt
	logging.GetManager().UseLogger(logging.NewWithWriter(rl.Stderr(), "warn"))

	client := ipc.NewIPCClient(cfg)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	out := rl.Stdout()
	showEvents := true
	toggle := make(chan bool, 1)
	go printEvents(ctx, out, client, toggle)

	printShellHelp(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd, args := strings.ToLower(parts[0]), parts[1:]
		switch cmd {
		case "help", "?":
			printShellHelp(out)
		case "quit", "exit", "q":
			return nil
		case "events":
			if len(args) > 0 {
				showEvents = args[0] == "on"
			} else {
				showEvents = !showEvents
			}
			select {
			case toggle <- showEvents:
			default:
			}
			fmt.Fprintf(out, "events %s\n", map[bool]string{true: "on", false: "off"}[showEvents])
		default:
			if err := execute(ctx, out, client, cmd, args); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if cmd == "shutdown" {
				return nil
			}
		}
	}
}

func screenItems() []readline.PrefixCompleterInterface {
	var items []readline.PrefixCompleterInterface
	for _, a := range comm.ScreenActions() {
		items = append(items, readline.PcItem(a))
	}
	return items
}

func printEvents(ctx context.Context, out io.Writer, client *ipc.IPCClient, toggle <-chan bool) {
	show := true
	for {
		select {
		case <-ctx.Done():
			return
		case show = <-toggle:
		case msg, ok := <-client.Events():
			if !ok {
				fmt.Fprintln(out, "connection to daemon closed")
				return
			}
			if !show {
				continue
			}
			var ev types.Event
			if err := ipc.FromData(msg.Data, &ev); err == nil {
				fmt.Fprintln(out, formatEvent(ev))
			}
		}
	}
}

func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, `Commands:
  status              Show coordinator and provider status
  resync              Sync the screen now
  mode <name|next>    Switch display mode
  screen <action>     Navigate pages or clear stored media
  events [on|off]     Toggle the live event stream
  shutdown            Stop the daemon and leave
  quit                Leave the shell`)
}
