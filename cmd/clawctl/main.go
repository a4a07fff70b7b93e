package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clawapp/claw/internal/daemon"
	"github.com/clawapp/claw/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(sessionName, *jsonFlag)
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			cmdSessionsList(*jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: clawctl sessions list")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: clawctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show daemon and gateway connectivity")
	fmt.Fprintln(os.Stderr, "  sessions list    List known sessions")
}

type statusReport struct {
	Session string `json:"session"`
	Daemon  string `json:"daemon"`
	Gateway string `json:"gateway"`
}

func cmdStatus(sessionName string, jsonOut bool) {
	socketPath := session.SocketPath(sessionName)
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)

	report := statusReport{Session: sessionName, Daemon: "down", Gateway: "unknown"}
	if resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); err == nil {
		if resp.Status == healthpb.HealthCheckResponse_SERVING {
			report.Daemon = "running"
		} else {
			report.Daemon = "unhealthy"
		}
	}
	if resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.HealthService}); err == nil {
		if resp.Status == healthpb.HealthCheckResponse_SERVING {
			report.Gateway = "connected"
		} else {
			report.Gateway = "offline"
		}
	}

	if report.Daemon == "down" {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q is not running\n", sessionName)
		os.Exit(1)
	}

	if jsonOut {
		outputJSON(report)
		return
	}
	fmt.Printf("Session: %s\n", report.Session)
	fmt.Printf("Daemon:  %s\n", report.Daemon)
	fmt.Printf("Gateway: %s\n", report.Gateway)
}

type sessionEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func cmdSessionsList(jsonOut bool) {
	sessionsDir := filepath.Join(session.BaseDir(), "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No sessions found.")
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var sessions []sessionEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		_, statErr := os.Stat(session.SocketPath(name))
		sessions = append(sessions, sessionEntry{
			Name:    name,
			Path:    session.Dir(name),
			Running: statErr == nil,
		})
	}

	if jsonOut {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
