// Package printertest provides an in-memory printer transport for tests
package printertest

import (
	"context"
	"errors"
	"sync"

	"github.com/thereceipt/pos-printer/internal/printer"
)

// Transport is a printer.Transport that records every byte written to it
type Transport struct {
	KindName string
	Devices  []printer.Device
	DialErr  error
	WriteErr error
	ScanErr  error

	mu      sync.Mutex
	dials   int
	written []byte
	lost    func(error)
	open    bool
}

// New returns a BLE transport advertising devices
func New(devices ...printer.Device) *Transport {
	return &Transport{KindName: printer.KindBLE, Devices: devices}
}

// Kind implements printer.Transport
func (t *Transport) Kind() string { return t.KindName }

// Scan implements printer.Transport
func (t *Transport) Scan(ctx context.Context, found func(printer.Device)) error {
	if t.ScanErr != nil {
		return t.ScanErr
	}
	for _, d := range t.Devices {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		found(d)
	}
	return nil
}

// Dial implements printer.Transport
func (t *Transport) Dial(ctx context.Context, dev printer.Device, lost func(error)) (printer.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	t.lost = lost
	t.open = true
	return &link{t: t}, nil
}

// Written returns everything printed so far
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

// Dials returns the number of Dial calls
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Drop simulates the printer going away
func (t *Transport) Drop() {
	t.mu.Lock()
	lost := t.lost
	t.mu.Unlock()

	if lost != nil {
		lost(errors.New("peripheral disconnected"))
	}
}

type link struct {
	t *Transport
}

func (l *link) Write(ctx context.Context, data []byte) error {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()

	if !l.t.open {
		return printer.ErrNotConnected
	}
	if l.t.WriteErr != nil {
		return l.t.WriteErr
	}
	l.t.written = append(l.t.written, data...)
	return nil
}

func (l *link) Close() error {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	l.t.open = false
	return nil
}
