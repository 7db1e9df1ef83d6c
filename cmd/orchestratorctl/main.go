package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 5 * time.Minute}

func main() {
	server := flag.String("server", "http://localhost:3210", "Orchestrator server URL")
	flag.Parse()

	fmt.Println("Orchestrator CLI")
	fmt.Printf("Server: %s\n", *server)
	fmt.Println("Commands: /agents, /workflows, /run <workflow> [input], /start <workflow> [input],")
	fmt.Println("          /status <exec>, /messages <exec>, /context <exec>, /cancel <exec>, exit")
	fmt.Println("---")

	fetchAgents(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		cmd, rest, _ := strings.Cut(input, " ")
		arg, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		switch cmd {
		case "/agents":
			fetchAgents(*server)
		case "/workflows":
			fetchWorkflows(*server)
		case "/run", "/start":
			if arg == "" {
				printError("usage: %s <workflow> [input]", cmd)
				continue
			}
			runWorkflow(*server, arg, strings.TrimSpace(text), cmd == "/run")
		case "/status":
			show(*server, "/api/executions/"+arg)
		case "/messages":
			show(*server, "/api/executions/"+arg+"/messages")
		case "/context":
			show(*server, "/api/executions/"+arg+"/context")
		case "/cancel":
			post(*server, "/api/executions/"+arg+"/cancel", nil)
		default:
			printError("unknown command %q", cmd)
		}
	}
}

func fetchAgents(server string) {
	var agents []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if !get(server+"/api/agents", &agents) {
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return
	}
	fmt.Println("Agents:")
	for _, a := range agents {
		fmt.Printf("  %s (%s) %s\n", a.ID, a.Role, a.Name)
	}
}

func fetchWorkflows(server string) {
	var defs []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     string `json:"workflowType"`
		IsActive bool   `json:"isActive"`
	}
	if !get(server+"/api/workflows", &defs) {
		return
	}
	if len(defs) == 0 {
		fmt.Println("No workflows stored.")
		return
	}
	fmt.Println("Workflows:")
	for _, d := range defs {
		state := "\033[32mactive\033[0m"
		if !d.IsActive {
			state = "\033[31minactive\033[0m"
		}
		fmt.Printf("  %s %s [%s] %s\n", d.ID, d.Name, d.Type, state)
	}
}

// runWorkflow starts a workflow. Input that parses as JSON is sent as is,
// anything else as a string.
func runWorkflow(server, id, input string, wait bool) {
	var in any = input
	if input == "" {
		in = nil
	} else if json.Valid([]byte(input)) {
		in = json.RawMessage(input)
	}
	post(server, "/api/workflows/"+id+"/executions", map[string]any{"input": in, "wait": wait})
}

func get(url string, v any) bool {
	resp, err := client.Get(url)
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		printError("Failed to parse response: %v", err)
		return false
	}
	return true
}

func show(server, path string) {
	var v any
	if get(server+path, &v) {
		printJSON(v)
	}
}

func post(server, path string, body any) {
	b, _ := json.Marshal(body)
	resp, err := client.Post(server+path, "application/json", bytes.NewReader(b))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	printJSON(v)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
