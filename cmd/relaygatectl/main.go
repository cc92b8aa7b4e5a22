package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
)

var version = "dev"

// loadEnvFile reads ~/.relaygate/env, if present, and
// sets any key=value pairs not already present in the process environment.
// This lets relaygatectl work out of the box without shell profile config.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.relaygate/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("relaygatectl %s\n", version)
	case "admin-token":
		doAdminToken()
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "credential", "credentials":
		doCredentials(args)
	case "models":
		doModels()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `relaygatectl — CLI for the relaygate admin API

Usage: relaygatectl <command> [arguments]

Environment:
  RELAYGATE_URL           Base URL (default: http://localhost:8080)
  RELAYGATE_ADMIN_TOKEN   Bearer token for admin endpoints

  ~/.relaygate/env        Auto-sourced on startup. Explicit environment
                          variables take precedence.

Commands:
  admin-token                    Print the admin token (env or local file)
  status                         Show server health summary
  health                         Alias for status

  credential list                List all registered credentials
  credential add <json>          Register a new credential
                                  {"token":"...","models":["gemini-2.5-flash"]}
  credential delete <handle>      Remove a credential
  credential reactivate <handle>  Re-activate a deactivated credential

  models                         List the served model catalog

  version                        Show version
  help                           Show this help

Examples:
  relaygatectl status
  relaygatectl credential add '{"token":"ya29...","models":["gemini-2.5-flash"]}'
  relaygatectl credential reactivate 3f9a...
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("RELAYGATE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("RELAYGATE_ADMIN_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := baseURL() + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) any {
	resp, err := doRequest(http.MethodGet, path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) any {
	resp, err := doRequest(http.MethodPost, path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) any {
	resp, err := doRequest(http.MethodDelete, path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	if len(data) == 0 {
		return nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usageLine string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: relaygatectl %s\n", usageLine)
		os.Exit(1)
	}
}

// --- Commands ---

func doAdminToken() {
	if tok := os.Getenv("RELAYGATE_ADMIN_TOKEN"); tok != "" {
		fmt.Println(tok)
		return
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		if data, err := os.ReadFile(home + "/.relaygate/.admin-token"); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	for _, name := range []string{"relaygate-relaygate-1", "relaygate"} {
		out, err := exec.Command("docker", "exec", name, "cat", "/data/.admin-token").Output()
		if err == nil {
			if tok := strings.TrimSpace(string(out)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	fmt.Fprintln(os.Stderr, "admin token not found — set RELAYGATE_ADMIN_TOKEN or ensure the service is running")
	os.Exit(1)
}

func doStatus() {
	resp, err := doRequest(http.MethodGet, "/healthz", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	fmt.Printf("Server:  %s\n", baseURL())
	fmt.Printf("Status:  %d\n", resp.StatusCode)
	fmt.Println(string(data))
}

func doHealth() {
	doStatus()
}

func doCredentials(args []string) {
	requireArgs(args, 1, "credential <list|add|delete|reactivate> [arguments]")
	switch args[0] {
	case "list":
		result := doGet("/admin/v1/credentials")
		printCredentials(result)
	case "add":
		requireArgs(args, 2, "credential add <json>")
		result := doPost("/admin/v1/credentials", args[1])
		fmt.Println(prettyJSON(result))
	case "delete":
		requireArgs(args, 2, "credential delete <handle>")
		result := doDelete("/admin/v1/credentials/" + args[1])
		if result != nil {
			fmt.Println(prettyJSON(result))
		} else {
			fmt.Println("credential removed")
		}
	case "reactivate":
		requireArgs(args, 2, "credential reactivate <handle>")
		result := doPost("/admin/v1/credentials/"+args[1]+"/reactivate", "")
		fmt.Println(prettyJSON(result))
	default:
		fmt.Fprintf(os.Stderr, "unknown credential subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func printCredentials(result any) {
	obj, ok := result.(map[string]any)
	if !ok {
		fmt.Println(prettyJSON(result))
		return
	}
	items, ok := obj["credentials"].([]any)
	if !ok {
		fmt.Println(prettyJSON(result))
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "HANDLE\tEMAIL\tHEALTH\tACTIVE\tMODELS")
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\n",
			entry["handle"], entry["email"], entry["health_score"], entry["active"], entry["models"])
	}
	_ = tw.Flush()
}

func doModels() {
	result := doGet("/v1/models")
	fmt.Println(prettyJSON(result))
}
