package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "status":
		cmdStatus()
	case "run":
		cmdRun()
	case "stop":
		cmdStop()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: opsdeskctl tickets <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: opsdeskctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "types":
		cmdTypes()
	case "search":
		cmdSearch(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: opsdeskctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Engine control ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdStatus() {
	body, err := apiGet("/api/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var status map[string]string
	json.Unmarshal(body, &status)
	fmt.Printf("status:     %s\n", status["status"])
	if status["session_id"] != "" {
		fmt.Printf("session_id: %s\n", status["session_id"])
	}
}

func cmdRun() {
	body, err := apiPost("/api/run")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp map[string]string
	json.Unmarshal(body, &resp)
	fmt.Printf("engine running (session %s)\n", resp["session_id"])
}

func cmdStop() {
	if _, err := apiPost("/api/stop"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("engine stopped")
}

// --- Ticket queries ---

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	reqType := fs.String("type", "", "Filter by request type")
	remote := fs.Bool("remote", false, "Only tickets filed with the tracker")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *reqType != "" {
		query += "&type=" + url.QueryEscape(*reqType)
	}
	if *remote {
		query += "&remote=true"
	}

	body, err := apiGet("/api/tickets" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		remoteID := "-"
		if id, ok := t["remote_ticket_id"].(float64); ok && id > 0 {
			remoteID = fmt.Sprintf("#%d", int64(id))
		}
		fmt.Printf("%-16s %-8s %-20s %s\n", t["correlation_id"], remoteID, t["request_type"], t["title"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + url.PathEscape(id))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTypes() {
	body, err := apiGet("/api/request-types")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var types []string
	json.Unmarshal(body, &types)
	for _, t := range types {
		fmt.Println(t)
	}
}

func cmdSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 5, "Max results")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: opsdeskctl search [--limit N] <query>")
		os.Exit(1)
	}

	q := url.QueryEscape(fs.Arg(0))
	body, err := apiGet(fmt.Sprintf("/api/search?q=%s&limit=%d", q, *limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var hits []map[string]any
	json.Unmarshal(body, &hits)
	for _, h := range hits {
		remoteID := "-"
		if id, ok := h["remote_ticket_id"].(float64); ok && id > 0 {
			remoteID = fmt.Sprintf("#%d", int64(id))
		}
		fmt.Printf("%-8s %-40s %s\n", remoteID, h["title"], h["text"])
	}
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%s %-5s %s\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path)
}

func apiPost(path string) ([]byte, error) {
	return apiDo("POST", path)
}

func apiDo(method, path string) ([]byte, error) {
	base := envOr("OPSDESK_API_URL", "http://localhost:8080")

	req, err := http.NewRequest(method, base+path, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("OPSDESK_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("opsdeskctl - correlation engine CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  status               Show engine status and session")
	fmt.Println("  run                  Start the ingestion and reconciliation loops")
	fmt.Println("  stop                 Stop the engine")
	fmt.Println("  tickets list         List tickets (--type, --remote, --limit)")
	fmt.Println("  tickets show <id>    Show a ticket by correlation or tracker id")
	fmt.Println("  types                List distinct request types")
	fmt.Println("  search <query>       Find similar past tickets (--limit)")
	fmt.Println("  logs                 Show recent daemon logs (--level, --limit)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  OPSDESK_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  OPSDESK_API_KEY  API key for authentication")
}
