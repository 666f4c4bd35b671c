package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/thereceipt/pos-printer/internal/tui"
)

const (
	defaultServerURL = "http://localhost:12212"
)

var client = &http.Client{Timeout: 2 * time.Minute}

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	args := flag.Args()

	// pick opens the interactive scan picker
	if len(args) == 1 && args[0] == "pick" {
		os.Exit(pick(serverURL))
	}

	result := executeCommand(serverURL, quoteArgs(args))

	if result.Success {
		printSuccess(result)
		os.Exit(0)
	} else {
		printError(result)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `POS Printer CLI

Usage:
  printer-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)

Commands:
  pick
    Scan for printers and choose one to connect to

  scan [seconds] [--all] [--kind=ble|serial|network|usb]
    Scan for printers

  devices
    List printers found so far

  connect <id|index>
    Connect to a printer

  disconnect | reconnect | status

  autoreconnect [on|off]
    Show or change reconnecting at startup

  name <id|index> <name>
    Set a custom name for a printer

  print <receipt|kot> <order-path|url> [--width=32|48] [--no-qr] [--no-customer] [--raster-qr]
    Print a customer receipt or kitchen order ticket

  preview <receipt|kot> <order-path|url> <out.png>
    Render a print preview to a PNG file

  job list | status <id> | retry <id> | clear
    Inspect, re-print or clear print jobs

Examples:
  printer-cli pick
  printer-cli scan 5 --kind=ble
  printer-cli connect 1
  printer-cli name 1 "Kitchen Printer"
  printer-cli print receipt ./order.json --width=48
  printer-cli -s http://localhost:8080 job list

`, defaultServerURL)
}

// quoteArgs rebuilds the command line so arguments with spaces survive
func quoteArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

type CommandResult struct {
	Success bool
	Message string
	Data    map[string]interface{}
	Error   string
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	reqBody := map[string]string{
		"command": command,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	resp, err := client.Post(url, "application/json", strings.NewReader(string(jsonData)))
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to connect to server: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to read response: %v", err),
		}
	}

	// the server flattens result data into the top-level object
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	result := &CommandResult{Data: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case "success":
			result.Success, _ = v.(bool)
		case "message":
			result.Message, _ = v.(string)
		case "error":
			result.Error, _ = v.(string)
		default:
			result.Data[k] = v
		}
	}
	return result
}

func printSuccess(result *CommandResult) {
	if result.Message != "" {
		fmt.Println(result.Message)
	}

	if devices, ok := result.Data["devices"].([]interface{}); ok {
		for _, d := range devices {
			dev, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			marker := " "
			if connected, _ := dev["connected"].(bool); connected {
				marker = "*"
			}
			line := fmt.Sprintf("%s %v. %v (%v) [%v]", marker, dev["index"], dev["name"], dev["id"], dev["kind"])
			if rssi, ok := dev["rssi"].(float64); ok {
				line += fmt.Sprintf(" %d dBm", int(rssi))
			}
			fmt.Println(line)
		}
	}

	if jobs, ok := result.Data["jobs"].([]interface{}); ok {
		for _, j := range jobs {
			if job, ok := j.(map[string]interface{}); ok {
				fmt.Printf("  %v  %-7v %-9v order %v\n", job["id"], job["kind"], job["status"], job["order_id"])
			}
		}
	}

	if jobID, ok := result.Data["job_id"].(string); ok {
		fmt.Printf("Job ID: %s\n", jobID)
	}
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	} else if result.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", result.Message)
	}
	if jobID, ok := result.Data["job_id"].(string); ok {
		fmt.Fprintf(os.Stderr, "Job %s kept for retry\n", jobID)
	}
}

// pick runs the scan picker and connects to the chosen printer
func pick(serverURL string) int {
	scan := func() ([]tui.PickerDevice, error) {
		result := executeCommand(serverURL, "scan 5")
		if !result.Success {
			return nil, fmt.Errorf("%s", result.Error)
		}
		return pickerDevices(result.Data["devices"]), nil
	}

	chosen, err := tui.RunPicker(scan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if chosen == nil {
		return 0
	}

	result := executeCommand(serverURL, quoteArgs([]string{"connect", chosen.ID}))
	if !result.Success {
		printError(result)
		return 1
	}
	printSuccess(result)
	return 0
}

func pickerDevices(v interface{}) []tui.PickerDevice {
	list, _ := v.([]interface{})
	devices := make([]tui.PickerDevice, 0, len(list))
	for _, item := range list {
		d, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		dev := tui.PickerDevice{}
		dev.ID, _ = d["id"].(string)
		dev.Name, _ = d["name"].(string)
		dev.Kind, _ = d["kind"].(string)
		dev.Connected, _ = d["connected"].(bool)
		if rssi, ok := d["rssi"].(float64); ok {
			dev.RSSI = int(rssi)
		}
		devices = append(devices, dev)
	}
	return devices
}
