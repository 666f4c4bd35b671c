// Package config loads agent settings from a TOML file, the environment and
// command-line flags
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/thereceipt/pos-printer/internal/escpos"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
)

const appDir = "pos-printer"

// Duration is a time.Duration written as "200ms" or "1s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full agent configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Printer  PrinterConfig  `toml:"printer"`
	Receipt  ReceiptConfig  `toml:"receipt"`
	Registry RegistryConfig `toml:"registry"`
	Log      LogConfig      `toml:"log"`

	// Headless disables the TUI
	Headless bool `toml:"-"`
	// Path is the file the config was read from, if any
	Path string `toml:"-"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Host string `toml:"host"`
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

type PrinterConfig struct {
	// Transports enabled, any of ble, serial, network, usb
	Transports     []string                 `toml:"transports"`
	ChunkSize      int                      `toml:"chunk_size"`
	ChunkDelay     Duration                 `toml:"chunk_delay"`
	ConnectRetries int                      `toml:"connect_retries"`
	RetryDelay     Duration                 `toml:"retry_delay"`
	ScanTimeout    Duration                 `toml:"scan_timeout"`
	DialTimeout    Duration                 `toml:"dial_timeout"`
	WriteTimeout   Duration                 `toml:"write_timeout"`
	MonitorEvery   Duration                 `toml:"monitor_interval"`
	SerialBaud     int                      `toml:"serial_baud"`
	ServiceUUIDs   []string                 `toml:"service_uuids"`
	WriteUUIDs     []string                 `toml:"write_characteristic_uuids"`
	VendorHints    []string                 `toml:"vendor_hints"`
	Network        []printer.NetworkPrinter `toml:"network"`
}

type ReceiptConfig struct {
	Width         int    `toml:"width"`
	Currency      string `toml:"currency"`
	CodePage      string `toml:"code_page"`
	QRMode        string `toml:"qr_mode"`
	QRModuleSize  int    `toml:"qr_module_size"`
	QRLevel       string `toml:"qr_level"`
	CustomerBlock bool   `toml:"customer_block"`
	PaymentQR     bool   `toml:"payment_qr"`
	KOTBarcode    bool   `toml:"kot_barcode"`
	FullCut       bool   `toml:"full_cut"`
	LogoPath      string `toml:"logo"`
}

type RegistryConfig struct {
	Path string `toml:"path"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "12212", Host: "0.0.0.0"},
		Printer: PrinterConfig{
			Transports:     []string{printer.KindBLE, printer.KindSerial, printer.KindNetwork},
			ChunkSize:      printer.DefaultChunkSize,
			ChunkDelay:     Duration{printer.DefaultChunkDelay},
			ConnectRetries: printer.DefaultConnectRetries,
			RetryDelay:     Duration{printer.DefaultRetryDelay},
			ScanTimeout:    Duration{printer.DefaultScanTimeout},
			MonitorEvery:   Duration{5 * time.Second},
			SerialBaud:     9600,
		},
		Receipt: ReceiptConfig{
			Width:         receipt.Width58mm,
			CodePage:      "437",
			QRMode:        string(receipt.QRNative),
			QRModuleSize:  6,
			QRLevel:       "M",
			CustomerBlock: true,
			PaymentQR:     true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration. Precedence, lowest first: defaults, the TOML
// file, SERVER_PORT, flags. A missing file at the default location is not
// an error.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("pos-printer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to config.toml")
	port := fs.String("port", "", "HTTP port")
	headless := fs.Bool("headless", false, "run without the TUI")
	registryPath := fs.String("registry", "", "path to the printer registry file")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("invalid arguments: %w", err)
	}

	cfg := Default()

	path := *configPath
	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir(), "config.toml")
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		cfg.Path = path
	}

	if envPort := os.Getenv("SERVER_PORT"); envPort != "" {
		cfg.Server.Port = envPort
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *registryPath != "" {
		cfg.Registry.Path = *registryPath
	}
	cfg.Headless = *headless

	if cfg.Registry.Path == "" {
		cfg.Registry.Path = defaultRegistryPath()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks values that would otherwise fail late
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	for _, k := range c.Printer.Transports {
		switch k {
		case printer.KindBLE, printer.KindSerial, printer.KindNetwork, printer.KindUSB:
		default:
			return fmt.Errorf("unknown transport %q", k)
		}
	}
	if len(c.Printer.Transports) == 0 {
		return fmt.Errorf("at least one transport must be enabled")
	}
	for _, p := range c.Printer.Network {
		if p.Host == "" {
			return fmt.Errorf("network printer %q has no host", p.Name)
		}
	}
	if c.Receipt.Width != receipt.Width58mm && c.Receipt.Width != receipt.Width80mm {
		return fmt.Errorf("receipt width must be %d or %d, got %d", receipt.Width58mm, receipt.Width80mm, c.Receipt.Width)
	}
	if _, err := escpos.ParseCodePage(c.Receipt.CodePage); err != nil {
		return err
	}
	switch strings.ToUpper(c.Receipt.QRLevel) {
	case "L", "M", "Q", "H":
	default:
		return fmt.Errorf("qr_level must be one of L, M, Q, H, got %q", c.Receipt.QRLevel)
	}
	if c.Receipt.QRModuleSize < 1 || c.Receipt.QRModuleSize > 16 {
		return fmt.Errorf("qr_module_size must be between 1 and 16, got %d", c.Receipt.QRModuleSize)
	}
	switch receipt.QRMode(c.Receipt.QRMode) {
	case receipt.QRNative, receipt.QRRaster:
	default:
		return fmt.Errorf("unknown qr_mode %q", c.Receipt.QRMode)
	}
	return nil
}

// ManagerConfig converts printer settings for printer.NewManager
func (c Config) ManagerConfig() printer.Config {
	pc := printer.DefaultConfig()
	pc.ChunkSize = c.Printer.ChunkSize
	pc.ChunkDelay = c.Printer.ChunkDelay.Duration
	pc.ConnectRetries = c.Printer.ConnectRetries
	pc.RetryDelay = c.Printer.RetryDelay.Duration
	pc.ScanTimeout = c.Printer.ScanTimeout.Duration
	pc.DialTimeout = c.Printer.DialTimeout.Duration
	pc.WriteTimeout = c.Printer.WriteTimeout.Duration

	if len(c.Printer.VendorHints) > 0 || len(c.Printer.ServiceUUIDs) > 0 {
		filter := printer.DefaultFilter()
		filter.VendorHints = append(append([]string(nil), filter.VendorHints...), lower(c.Printer.VendorHints)...)
		filter.ServiceUUIDs = append(append([]string(nil), filter.ServiceUUIDs...), c.Printer.ServiceUUIDs...)
		pc.Filter = filter
	}
	return pc
}

// Transports builds the enabled transports
func (c Config) Transports() []printer.Transport {
	var transports []printer.Transport
	for _, kind := range c.Printer.Transports {
		switch kind {
		case printer.KindBLE:
			services := append(append([]string(nil), printer.DefaultServiceUUIDs...), c.Printer.ServiceUUIDs...)
			chars := append(append([]string(nil), printer.DefaultWriteCharacteristicUUIDs...), c.Printer.WriteUUIDs...)
			transports = append(transports, printer.NewBLETransport(services, chars))
		case printer.KindSerial:
			transports = append(transports, printer.NewSerialTransport(c.Printer.SerialBaud))
		case printer.KindNetwork:
			transports = append(transports, printer.NewNetworkTransport(c.Printer.Network))
		case printer.KindUSB:
			transports = append(transports, printer.NewUSBTransport())
		}
	}
	return transports
}

// ComposerOptions converts receipt settings for receipt.NewComposer. The
// logo is loaded separately.
func (c Config) ComposerOptions() receipt.Options {
	opts := receipt.DefaultOptions()
	opts.Width = c.Receipt.Width
	opts.Currency = c.Receipt.Currency
	opts.IncludeCustomerBlock = c.Receipt.CustomerBlock
	opts.IncludeQR = c.Receipt.PaymentQR
	opts.IncludeBarcode = c.Receipt.KOTBarcode
	opts.FullCut = c.Receipt.FullCut
	opts.QRMode = receipt.QRMode(c.Receipt.QRMode)
	opts.QR = escpos.QROptions{
		ModuleSize: c.Receipt.QRModuleSize,
		Level:      escpos.ParseQRLevel(c.Receipt.QRLevel),
	}
	if cp, err := escpos.ParseCodePage(c.Receipt.CodePage); err == nil {
		opts.CodePage = cp
	}
	return opts
}

func lower(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// configDir returns the per-user config directory
func configDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDir)
		}
		return filepath.Join(os.Getenv("USERPROFILE"), appDir)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appDir)
	}
	return "."
}

// defaultRegistryPath places the registry next to the executable when that
// directory is writable, otherwise in the config directory
func defaultRegistryPath() string {
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		testFile := filepath.Join(exeDir, ".pos-printer-write-test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(exeDir, "printer_registry.json")
		}
	}
	return filepath.Join(configDir(), "printer_registry.json")
}
