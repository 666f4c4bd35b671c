package printer

import "strings"

// Known printer GATT services
var DefaultServiceUUIDs = []string{
	"49535343-fe7d-4ae5-8fa9-9fafd205e455",
	"e7810a71-73ae-499d-8c15-faa9aef0c3f2",
	"000018f0-0000-1000-8000-00805f9b34fb",
	"0000ff00-0000-1000-8000-00805f9b34fb",
	"0000ffe0-0000-1000-8000-00805f9b34fb",
}

// Known printer write characteristics
var DefaultWriteCharacteristicUUIDs = []string{
	"49535343-8841-43f4-a8d4-ecbe34729bb3",
	"bef8d6c9-9c21-4c9e-b632-bd58c1009f9f",
	"00002af1-0000-1000-8000-00805f9b34fb",
	"0000ff02-0000-1000-8000-00805f9b34fb",
	"0000ffe1-0000-1000-8000-00805f9b34fb",
}

var defaultVendorHints = []string{
	"printer", "print", "pos", "thermal", "receipt",
	"mpt", "mtp", "rpp", "pt-", "bt-", "xp-", "zj-", "gp-",
	"epson", "tm-", "star", "bixolon", "citizen", "rongta", "xprinter",
	"goojprt", "munbyn", "sunmi", "hprt", "zjiang", "phomemo", "peripage",
	"innerprinter", "bluetooth printer",
}

var defaultConsumerExclusions = []string{
	"iphone", "ipad", "macbook", "galaxy", "pixel", "oneplus", "redmi", "xiaomi",
	"airpods", "buds", "earbuds", "headphone", "headset", "speaker", "jbl", "bose",
	"watch", "band", "fitbit", "garmin", "tv", "keyboard", "mouse", "car",
}

// Filter decides which scanned devices are shown as printer candidates. It is
// a UX aid: unnamed devices advertising a known printer service still pass.
type Filter struct {
	VendorHints  []string
	Exclusions   []string
	ServiceUUIDs []string
}

// DefaultFilter returns the built-in printer heuristics
func DefaultFilter() *Filter {
	return &Filter{
		VendorHints:  defaultVendorHints,
		Exclusions:   defaultConsumerExclusions,
		ServiceUUIDs: DefaultServiceUUIDs,
	}
}

// Match reports whether dev looks like a printer
func (f *Filter) Match(dev Device) bool {
	// Non-BLE transports only surface printer-capable endpoints
	if dev.Kind != "" && dev.Kind != KindBLE {
		return true
	}

	if f.advertisesPrinterService(dev) {
		return true
	}

	name := strings.ToLower(strings.TrimSpace(dev.Name))
	if name == "" {
		return false
	}
	for _, ex := range f.Exclusions {
		if containsWord(name, ex) {
			return false
		}
	}
	for _, hint := range f.VendorHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func (f *Filter) advertisesPrinterService(dev Device) bool {
	for _, uuid := range dev.ServiceUUIDs {
		if MatchUUID(uuid, f.ServiceUUIDs) {
			return true
		}
	}
	return false
}

// containsWord matches ex as a whole word so "tv" does not reject "gtv-printer"
func containsWord(name, ex string) bool {
	for _, field := range strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\'' || r == '.'
	}) {
		if field == ex || (len(ex) > 3 && strings.HasPrefix(field, ex)) {
			return true
		}
	}
	return false
}

// MatchUUID compares a UUID against an allow-list case-insensitively
func MatchUUID(uuid string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(uuid), a) {
			return true
		}
	}
	return false
}
