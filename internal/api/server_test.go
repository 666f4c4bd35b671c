package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/escpos"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/printer/printertest"
	"github.com/thereceipt/pos-printer/internal/receipt"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
)

const orderJSON = `{
	"number": "1042",
	"type": "Dine In",
	"table": "T4",
	"created_at": "2024-03-09T19:45:00Z",
	"outlet": {"name": "Spice Route", "upi_id": "spiceroute@okbank"},
	"items": [
		{"name": "Paneer Tikka", "quantity": 2, "price": "150"},
		{"name": "Butter Naan", "quantity": 4, "price": "50"}
	],
	"totals": {"subtotal": "500", "grand_total": "500"}
}`

var mpt = printer.Device{ID: "66:22:AB:CD:EF:01", Name: "MPT-II", Kind: printer.KindBLE}

type testEnv struct {
	server    *Server
	transport *printertest.Transport
	manager   *printer.Manager
	registry  *registry.Registry
	store     *state.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg, err := registry.New(filepath.Join(t.TempDir(), "printer_registry.json"))
	require.NoError(t, err)

	transport := printertest.New(mpt, printer.Device{ID: "11:22:33:44:55:66", Name: "Galaxy Buds", Kind: printer.KindBLE})

	cfg := printer.DefaultConfig()
	cfg.ChunkDelay = 0
	store := state.New(reg)
	manager := printer.NewManager(cfg, reg, store, transport)
	queue := printer.NewPrintQueue(manager)
	queue.OnJobDone(store.JobDone)
	t.Cleanup(queue.Stop)

	executor := command.NewExecutor(manager, queue, store, reg, receipt.NewComposer(receipt.DefaultOptions()))

	return &testEnv{
		server:    NewServer(manager, queue, store, reg, executor),
		transport: transport,
		manager:   manager,
		registry:  reg,
		store:     store,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func printBody(extra string) string {
	if extra == "" {
		return `{"order": ` + orderJSON + `}`
	}
	return `{"order": ` + orderJSON + `, ` + extra + `}`
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = env.do(t, http.MethodOptions, "/print/receipt", "")
	assert.Equal(t, 204, w.Code)
}

func TestConnectAndPrint(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/connect", `{"id": "66:22:AB:CD:EF:01", "kind": "ble"}`)
	require.Equal(t, 200, w.Code, body)
	assert.Equal(t, true, body["success"])

	w, body = env.do(t, http.MethodGet, "/state", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "connected", body["state"])

	w, body = env.do(t, http.MethodPost, "/print/receipt", printBody(`"width": 48`))
	require.Equal(t, 200, w.Code, body)
	assert.NotEmpty(t, body["job_id"])

	written := env.transport.Written()
	assert.True(t, bytes.HasPrefix(written, escpos.Initialize))
	assert.True(t, bytes.HasSuffix(written, escpos.CutPaper))

	w, body = env.do(t, http.MethodPost, "/print/kot", printBody(""))
	require.Equal(t, 200, w.Code, body)
	assert.Contains(t, string(env.transport.Written()), "KOT")

	w, body = env.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, 200, w.Code)
	assert.Len(t, body["jobs"], 2)
}

func TestPrintWithoutPrinter(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/print/receipt", printBody(""))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "No printer is connected. Connect a printer first.", body["error"])
	jobID := body["job_id"].(string)

	w, body = env.do(t, http.MethodGet, "/job/"+jobID, "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, printer.JobFailed, body["status"])

	require.NoError(t, env.manager.Connect(t.Context(), mpt))

	w, body = env.do(t, http.MethodPost, "/job/"+jobID+"/retry", "")
	require.Equal(t, http.StatusAccepted, w.Code, body)

	require.Eventually(t, func() bool {
		return len(env.transport.Written()) > 0
	}, time.Second, 10*time.Millisecond)

	w, _ = env.do(t, http.MethodGet, "/job/nope", "")
	assert.Equal(t, 404, w.Code)
}

func TestPrintValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"order": `},
		{"missing order", `{"width": 32}`},
		{"bad width", printBody(`"width": 40`)},
		{"no items", `{"order": {"number": "1", "outlet": {"name": "X"}, "items": []}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, "/print/receipt", tt.body)
			assert.Equal(t, 400, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/preview/receipt", printBody(`"include_qr": false`))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
	assert.Empty(t, env.transport.Written(), "preview never prints")
}

func TestScanAndPrinters(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/scan", `{"timeout_ms": 500}`)
	require.Equal(t, http.StatusAccepted, w.Code, body)

	require.Eventually(t, func() bool {
		return env.manager.State() != printer.StateScanning && len(env.manager.Devices()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	w, body = env.do(t, http.MethodGet, "/printers", "")
	require.Equal(t, 200, w.Code)
	printers := body["printers"].([]interface{})
	require.Len(t, printers, 1, "consumer devices are filtered out")
	assert.Equal(t, "MPT-II", printers[0].(map[string]interface{})["label"])

	w, body = env.do(t, http.MethodPost, "/printer/66:22:AB:CD:EF:01/name", `{"name": "Kitchen"}`)
	require.Equal(t, 200, w.Code, body)
	assert.Equal(t, "Kitchen", body["label"])

	w, _ = env.do(t, http.MethodPost, "/printer/AA:BB/name", `{"name": "Bar"}`)
	assert.Equal(t, 404, w.Code)

	w, _ = env.do(t, http.MethodPost, "/scan/stop", "")
	assert.Equal(t, 200, w.Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/settings", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, false, body["auto_reconnect"])

	w, body = env.do(t, http.MethodPut, "/settings", `{"auto_reconnect": true}`)
	require.Equal(t, 200, w.Code, body)
	assert.True(t, env.registry.AutoReconnect())

	w, _ = env.do(t, http.MethodPut, "/settings", `{}`)
	assert.Equal(t, 400, w.Code)
}

func TestReconnect(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/reconnect", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "No printer to reconnect")

	require.NoError(t, env.manager.Connect(t.Context(), mpt))
	w, _ = env.do(t, http.MethodPost, "/disconnect", "")
	require.Equal(t, 200, w.Code)

	w, body = env.do(t, http.MethodPost, "/reconnect", "")
	require.Equal(t, 200, w.Code, body)
	assert.Equal(t, 2, env.transport.Dials())
}

func TestCommandEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/command", `{"command": "autoreconnect on"}`)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["auto_reconnect"], "result data is flattened")

	w, body = env.do(t, http.MethodPost, "/command", `{"command": "frobnicate"}`)
	assert.Equal(t, 400, w.Code)
	assert.Contains(t, body["error"], "unknown command")

	w, _ = env.do(t, http.MethodPost, "/command", `{}`)
	assert.Equal(t, 400, w.Code)
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["event"] == event {
			return msg
		}
	}
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readUntil(t, conn, EventSnapshot)
	assert.Equal(t, "disconnected", snap["data"].(map[string]interface{})["state"])

	require.NoError(t, env.manager.Connect(t.Context(), mpt))
	readUntil(t, conn, string(state.EventState))

	var order json.RawMessage = []byte(orderJSON)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": EventPrintReceipt,
		"id":    "req-1",
		"data":  map[string]interface{}{"order": order},
	}))

	resp := readUntil(t, conn, EventResponse)
	assert.Equal(t, "req-1", resp["id"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["success"])
	assert.NotEmpty(t, data["job_id"])
	assert.NotEmpty(t, env.transport.Written())

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "print_invoice"}))
	msg := readUntil(t, conn, EventError)
	assert.Contains(t, msg["data"].(map[string]interface{})["error"], "unknown event")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": EventPrintKOT,
		"data":  map[string]interface{}{},
	}))
	msg = readUntil(t, conn, EventError)
	assert.Equal(t, "order is required", msg["data"].(map[string]interface{})["error"])
}
