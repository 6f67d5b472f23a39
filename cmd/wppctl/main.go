package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/push"
	"github.com/matheus3301/wppcrm/internal/session"
	"github.com/matheus3301/wppcrm/internal/store"
)

func main() {
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal(err)
	}
	addr := cfg.HTTP.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newAPIClient(addr, cfg.HTTP.Token)

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "start", "reset", "logout":
		cmdSession(ctx, c, args[0], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wppctl send <conversation> <text...>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppctl messages <conversation> [limit]")
			os.Exit(1)
		}
		limit := 0
		if len(args) >= 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				fatal(fmt.Errorf("invalid limit %q", args[2]))
			}
			limit = n
		}
		cmdMessages(ctx, c, args[1], limit, *jsonFlag)
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			cmdSessionsList(*jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: wppctl sessions list")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show connection status")
	fmt.Fprintln(os.Stderr, "  start                        Connect, pairing if needed")
	fmt.Fprintln(os.Stderr, "  reset                        Drop the connection without unlinking")
	fmt.Fprintln(os.Stderr, "  logout                       Unlink the device and clear credentials")
	fmt.Fprintln(os.Stderr, "  send <conv> <text...>        Send a text message")
	fmt.Fprintln(os.Stderr, "  messages <conv> [limit]      List stored messages")
	fmt.Fprintln(os.Stderr, "  watch                        Stream live events")
	fmt.Fprintln(os.Stderr, "  sessions list                List local sessions")
}

func cmdStatus(ctx context.Context, c *apiClient, jsonOut bool) {
	st, err := c.Status(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("State: %s\n", st.State)
	if st.LastError != "" {
		fmt.Printf("Error: %s\n", st.LastError)
	}
	if st.QRImage != "" {
		fmt.Println("Pairing QR available. Scan it from the web client or the daemon terminal.")
	}
}

func cmdSession(ctx context.Context, c *apiClient, action string, jsonOut bool) {
	st, err := c.Session(ctx, action)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("%s: %s\n", action, st.State)
}

func cmdSend(ctx context.Context, c *apiClient, conv, text string, jsonOut bool) {
	resp, err := c.Send(ctx, conv, text)
	if jsonOut {
		outputJSON(resp)
	}
	if err != nil {
		fatal(err)
	}
	if !jsonOut && resp.Message != nil {
		fmt.Printf("sent %s\n", resp.Message.ID)
	}
}

func cmdMessages(ctx context.Context, c *apiClient, conv string, limit int, jsonOut bool) {
	msgs, err := c.Messages(ctx, conv, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func printMessage(m store.Message) {
	ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
	arrow := "<"
	if m.Direction == store.DirectionOut {
		arrow = ">"
	}
	who := m.ContactName
	if who == "" {
		who = m.ContactNumber
	}
	fmt.Printf("%s %s %-20s %s\n", ts, arrow, who, m.Body)
}

func cmdWatch(ctx context.Context, c *apiClient, jsonOut bool) {
	err := c.Watch(ctx, func(f push.Frame) {
		if jsonOut {
			outputJSON(f)
			return
		}
		payload, _ := json.Marshal(f.Payload)
		fmt.Printf("%s %-14s %s\n", time.UnixMilli(f.TS).Format("15:04:05"), f.Event, payload)
	})
	if err != nil {
		fatal(err)
	}
}

func cmdSessionsList(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !os.IsNotExist(err) {
		fatal(err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && session.ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	if jsonOut {
		outputJSON(names)
		return
	}
	if len(names) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, n := range names {
		fmt.Printf("%-20s %s\n", n, session.Dir(n))
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
