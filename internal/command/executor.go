// Package command provides the text command system shared by the CLI, the
// TUI and the HTTP API
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/pos-printer/internal/escpos"
	"github.com/thereceipt/pos-printer/internal/preview"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
)

// Print job kinds
const (
	KindReceipt = "receipt"
	KindKOT     = "kot"
)

// Executor executes commands
type Executor struct {
	manager  *printer.Manager
	queue    *printer.PrintQueue
	store    *state.Store
	registry *registry.Registry
	composer *receipt.Composer
}

// NewExecutor creates a new command executor. registry may be nil.
func NewExecutor(manager *printer.Manager, queue *printer.PrintQueue, store *state.Store, reg *registry.Registry, composer *receipt.Composer) *Executor {
	return &Executor{
		manager:  manager,
		queue:    queue,
		store:    store,
		registry: reg,
		composer: composer,
	}
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(err error) *Result {
	return &Result{Success: false, Error: printer.UserMessage(err)}
}

func usage(text string) *Result {
	return &Result{Success: false, Error: "usage: " + text}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return &Result{
			Success: false,
			Error:   "empty command",
		}
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "scan":
		return e.handleScan(ctx, args)
	case "stop-scan":
		e.manager.StopScan()
		return &Result{Success: true, Message: "Scan stopped"}
	case "devices":
		return e.handleDevices(args)
	case "connect":
		return e.handleConnect(ctx, args)
	case "disconnect":
		return e.handleDisconnect(ctx)
	case "reconnect":
		return e.handleReconnect(ctx)
	case "status":
		return e.handleStatus()
	case "autoreconnect":
		return e.handleAutoReconnect(args)
	case "name":
		return e.handleName(args)
	case "print":
		return e.handlePrint(ctx, args)
	case "preview":
		return e.handlePreview(args)
	case "job":
		return e.handleJob(ctx, args)
	case "help":
		return e.handleHelp(args)
	default:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("unknown command: %s. Type 'help' for available commands", command),
		}
	}
}

// Compose builds the byte stream for an order
func (e *Executor) Compose(kind string, order *receipt.Order, apply func(*receipt.Options)) ([]byte, error) {
	composer := e.composer
	if apply != nil {
		composer = composer.WithOptions(apply)
	}

	switch kind {
	case KindReceipt:
		return composer.Receipt(order)
	case KindKOT:
		return composer.KOT(order)
	default:
		return nil, fmt.Errorf("unknown print kind: %s", kind)
	}
}

// PrintOrder composes an order and waits for the print job to finish. The
// job is returned even when it failed so it can be retried.
func (e *Executor) PrintOrder(ctx context.Context, kind string, order *receipt.Order, apply func(*receipt.Options)) (*printer.PrintJob, error) {
	data, err := e.Compose(kind, order, apply)
	if err != nil {
		return nil, err
	}
	return e.queue.Submit(ctx, kind, order.Number, data)
}

// PreviewOrder renders an order to PNG
func (e *Executor) PreviewOrder(kind string, order *receipt.Order, apply func(*receipt.Options)) ([]byte, error) {
	data, err := e.Compose(kind, order, apply)
	if err != nil {
		return nil, err
	}

	width := e.composer.Options().Width
	if apply != nil {
		width = e.composer.WithOptions(apply).Options().Width
	}
	return preview.RenderPNG(data, escpos.PaperDots(width), width)
}

// Label returns the display name of a device
func (e *Executor) Label(dev printer.Device) string {
	if e.registry != nil {
		return e.registry.Label(dev)
	}
	return dev.DisplayName()
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		if char == '"' || char == '\'' {
			if !inQuotes {
				inQuotes = true
				quoted = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		} else if (char == ' ' || char == '\t') && !inQuotes {
			if current.Len() > 0 || quoted {
				parts = append(parts, current.String())
				current.Reset()
				quoted = false
			}
		} else {
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 || quoted {
		parts = append(parts, current.String())
	}

	return parts
}
