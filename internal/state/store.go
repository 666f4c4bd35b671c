// Package state is the process-wide printer context shared by the API, the
// TUI and the command layer
package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thereceipt/pos-printer/internal/printer"
)

// EventType names a store event
type EventType string

const (
	EventState           EventType = "state"
	EventDeviceFound     EventType = "device_found"
	EventDeviceRemoved   EventType = "device_removed"
	EventScanFinished    EventType = "scan_finished"
	EventReconnectPrompt EventType = "reconnect_prompt"
	EventSettings        EventType = "settings"
	EventJobDone         EventType = "job_done"
	EventError           EventType = "error"
)

// Event is pushed to subscribers
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

// Settings is the persisted preference store
type Settings interface {
	AutoReconnect() bool
	SetAutoReconnect(enabled bool) error
	LastDevice() (printer.Device, bool)
}

// ReconnectPrompt asks the user whether to reconnect after a lost link
type ReconnectPrompt struct {
	Device  printer.Device `json:"device"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// Snapshot is a consistent copy of the printer context
type Snapshot struct {
	State           printer.State    `json:"state"`
	Device          *printer.Device  `json:"device,omitempty"`
	Devices         []printer.Device `json:"devices"`
	Scanning        bool             `json:"scanning"`
	AutoReconnect   bool             `json:"auto_reconnect"`
	LastDevice      *printer.Device  `json:"last_device,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	ReconnectPrompt *ReconnectPrompt `json:"reconnect_prompt,omitempty"`
}

// StatePayload is the data of an EventState
type StatePayload struct {
	State  printer.State   `json:"state"`
	Device *printer.Device `json:"device,omitempty"`
}

// ErrorPayload is the data of an EventError
type ErrorPayload struct {
	Error string `json:"error"`
}

// SettingsPayload is the data of an EventSettings
type SettingsPayload struct {
	AutoReconnect bool `json:"auto_reconnect"`
}

// Store holds printer state and fans events out to subscribers. It
// implements printer.Observer.
type Store struct {
	settings Settings

	mu        sync.RWMutex
	state     printer.State
	device    *printer.Device
	devices   []printer.Device
	lastError string
	prompt    *ReconnectPrompt

	subMu  sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// New creates a store. settings may be nil.
func New(settings Settings) *Store {
	return &Store{
		settings: settings,
		subs:     make(map[int]chan Event),
	}
}

// Snapshot returns the current printer context
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		State:     s.state,
		Devices:   append([]printer.Device(nil), s.devices...),
		Scanning:  s.state == printer.StateScanning,
		LastError: s.lastError,
	}
	if s.device != nil {
		dev := *s.device
		snap.Device = &dev
	}
	if s.prompt != nil {
		prompt := *s.prompt
		snap.ReconnectPrompt = &prompt
	}
	s.mu.RUnlock()

	if s.settings != nil {
		snap.AutoReconnect = s.settings.AutoReconnect()
		if last, ok := s.settings.LastDevice(); ok {
			snap.LastDevice = &last
		}
	}
	if snap.Devices == nil {
		snap.Devices = []printer.Device{}
	}
	return snap
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Store) publish(t EventType, data interface{}) {
	ev := Event{Type: t, Data: data, Time: time.Now()}

	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Int("subscriber", id).Str("event", string(t)).Msg("Dropping event for slow subscriber")
		}
	}
}

// SetAutoReconnect persists the preference and notifies subscribers
func (s *Store) SetAutoReconnect(enabled bool) error {
	if s.settings == nil {
		return nil
	}
	if err := s.settings.SetAutoReconnect(enabled); err != nil {
		return err
	}
	log.Info().Bool("enabled", enabled).Msg("Auto-reconnect updated")
	s.publish(EventSettings, SettingsPayload{AutoReconnect: enabled})
	return nil
}

// DismissPrompt clears a pending reconnect prompt
func (s *Store) DismissPrompt() {
	s.mu.Lock()
	s.prompt = nil
	s.mu.Unlock()
}

// ReportError records an operation failure as a user-facing message
func (s *Store) ReportError(err error) {
	if err == nil {
		return
	}
	msg := printer.UserMessage(err)

	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()

	s.publish(EventError, ErrorPayload{Error: msg})
}

// JobDone publishes a finished print job
func (s *Store) JobDone(job *printer.PrintJob) {
	if job.Status == printer.JobFailed {
		s.mu.Lock()
		s.lastError = job.Error
		s.mu.Unlock()
	}
	s.publish(EventJobDone, job)
}

// StateChanged implements printer.Observer
func (s *Store) StateChanged(st printer.State, dev *printer.Device) {
	s.mu.Lock()
	s.state = st
	switch st {
	case printer.StateScanning:
		s.devices = nil
	case printer.StateConnected:
		if dev != nil {
			d := *dev
			s.device = &d
		}
		s.prompt = nil
		s.lastError = ""
	case printer.StateDisconnected:
		s.device = nil
	}
	var payloadDev *printer.Device
	if s.device != nil {
		d := *s.device
		payloadDev = &d
	}
	s.mu.Unlock()

	s.publish(EventState, StatePayload{State: st, Device: payloadDev})
}

// DeviceFound implements printer.Observer
func (s *Store) DeviceFound(dev printer.Device) {
	s.mu.Lock()
	replaced := false
	for i := range s.devices {
		if s.devices[i].ID == dev.ID {
			s.devices[i] = dev
			replaced = true
			break
		}
	}
	if !replaced {
		s.devices = append(s.devices, dev)
	}
	s.mu.Unlock()

	s.publish(EventDeviceFound, dev)
}

// DeviceRemoved drops a device that is no longer present
func (s *Store) DeviceRemoved(dev printer.Device) {
	s.mu.Lock()
	for i := range s.devices {
		if s.devices[i].ID == dev.ID && s.devices[i].Kind == dev.Kind {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(EventDeviceRemoved, dev)
}

// ScanFinished implements printer.Observer
func (s *Store) ScanFinished(err error) {
	if err != nil {
		s.mu.Lock()
		s.lastError = printer.UserMessage(err)
		s.mu.Unlock()
	}

	var msg string
	if err != nil {
		msg = printer.UserMessage(err)
	}
	s.publish(EventScanFinished, msg)
}

// LinkLost implements printer.Observer. The reconnect prompt is raised
// when auto-reconnect is on or a last device is known.
func (s *Store) LinkLost(dev printer.Device, err error) {
	msg := printer.UserMessage(err)

	wantPrompt := false
	if s.settings != nil {
		_, hasLast := s.settings.LastDevice()
		wantPrompt = s.settings.AutoReconnect() || hasLast
	}

	s.mu.Lock()
	s.lastError = msg
	var prompt *ReconnectPrompt
	if wantPrompt {
		prompt = &ReconnectPrompt{Device: dev, Message: msg, At: time.Now()}
		s.prompt = prompt
	}
	s.mu.Unlock()

	if prompt != nil {
		log.Info().Str("device", dev.ID).Msg("Asking to reconnect")
		s.publish(EventReconnectPrompt, *prompt)
	}
}
