package printer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultNetworkPort is the raw ESC/POS port on LAN printers
const DefaultNetworkPort = 9100

// NetworkPrinter is a configured LAN printer
type NetworkPrinter struct {
	Name string `toml:"name" json:"name"`
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
}

// Address returns host:port
func (p NetworkPrinter) Address() string {
	port := p.Port
	if port == 0 {
		port = DefaultNetworkPort
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// NetworkTransport prints to configured TCP printers
type NetworkTransport struct {
	printers     []NetworkPrinter
	reachTimeout time.Duration
	dialTimeout  time.Duration

	mu   sync.Mutex
	open map[string]*networkLink
}

// NewNetworkTransport creates a transport for the given printers
func NewNetworkTransport(printers []NetworkPrinter) *NetworkTransport {
	return &NetworkTransport{
		printers:     printers,
		reachTimeout: 500 * time.Millisecond,
		dialTimeout:  5 * time.Second,
		open:         make(map[string]*networkLink),
	}
}

// Kind implements Transport
func (t *NetworkTransport) Kind() string {
	return KindNetwork
}

// Scan implements Transport by probing each configured printer. Printers
// with an open link are reported without a second connection.
func (t *NetworkTransport) Scan(ctx context.Context, found func(Device)) error {
	var wg sync.WaitGroup
	for _, p := range t.printers {
		wg.Add(1)
		go func(p NetworkPrinter) {
			defer wg.Done()
			if t.isOpen(p.Address()) || t.reachable(ctx, p.Address()) {
				found(Device{ID: p.Address(), Name: p.Name, Kind: KindNetwork})
			}
		}(p)
	}
	wg.Wait()
	return ctx.Err()
}

func (t *NetworkTransport) isOpen(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[address]
	return ok
}

func (t *NetworkTransport) release(link *networkLink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open[link.address] == link {
		delete(t.open, link.address)
	}
}

func (t *NetworkTransport) reachable(ctx context.Context, address string) bool {
	dialer := net.Dialer{Timeout: t.reachTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Dial implements Transport
func (t *NetworkTransport) Dial(ctx context.Context, dev Device, lost func(error)) (Link, error) {
	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", dev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to network printer: %w", err)
	}

	log.Debug().Str("address", dev.ID).Msg("Network printer connected")
	link := &networkLink{transport: t, address: dev.ID, conn: conn, lost: lost}
	t.mu.Lock()
	t.open[dev.ID] = link
	t.mu.Unlock()
	return link, nil
}

// networkLink is an open TCP connection to a printer
type networkLink struct {
	transport *NetworkTransport
	address   string
	conn      net.Conn
	lost      func(error)
	lostOnce  sync.Once
	mu        sync.Mutex
}

// Write sends data to the network printer
func (c *networkLink) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if _, err := c.conn.Write(data); err != nil {
		c.lostOnce.Do(func() {
			c.transport.release(c)
			if c.lost != nil {
				go c.lost(err)
			}
		})
		return fmt.Errorf("failed to write to network printer: %w", err)
	}
	return nil
}

// Close closes the network connection
func (c *networkLink) Close() error {
	c.lostOnce.Do(func() {})
	c.transport.release(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
