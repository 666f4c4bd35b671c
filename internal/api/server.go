// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
)

// Server is the API server
type Server struct {
	router   *gin.Engine
	http     *http.Server
	manager  *printer.Manager
	queue    *printer.PrintQueue
	store    *state.Store
	registry *registry.Registry
	executor *command.Executor
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(manager *printer.Manager, queue *printer.PrintQueue, store *state.Store, reg *registry.Registry, executor *command.Executor) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	server := &Server{
		router:   router,
		manager:  manager,
		queue:    queue,
		store:    store,
		registry: reg,
		executor: executor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Printer context
	s.router.GET("/state", s.handleGetState)
	s.router.GET("/printers", s.handleGetPrinters)
	s.router.POST("/scan", s.handleScan)
	s.router.POST("/scan/stop", s.handleStopScan)
	s.router.POST("/connect", s.handleConnect)
	s.router.POST("/disconnect", s.handleDisconnect)
	s.router.POST("/reconnect", s.handleReconnect)
	s.router.GET("/settings", s.handleGetSettings)
	s.router.PUT("/settings", s.handlePutSettings)
	s.router.POST("/printer/:id/name", s.handleSetPrinterName)

	// Printing
	s.router.POST("/print/receipt", s.handlePrint(command.KindReceipt))
	s.router.POST("/print/kot", s.handlePrint(command.KindKOT))
	s.router.POST("/preview/receipt", s.handlePreview(command.KindReceipt))
	s.router.POST("/preview/kot", s.handlePreview(command.KindKOT))
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)
	s.router.POST("/job/:id/retry", s.handleRetryJob)

	// Command endpoint
	s.router.POST("/command", s.handleCommand)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)
}

// errorStatus maps operation errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, printer.ErrNotConnected), errors.Is(err, printer.ErrNoLastDevice):
		return http.StatusConflict
	case errors.Is(err, printer.ErrDeviceNotFound):
		return http.StatusNotFound
	case printer.IsAdapterError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{
		"success": false,
		"error":   printer.UserMessage(err),
	})
}

func (s *Server) handleGetState(c *gin.Context) {
	c.JSON(200, s.store.Snapshot())
}

type printerView struct {
	printer.Device
	Label     string `json:"label"`
	Connected bool   `json:"connected"`
}

// handleGetPrinters returns discovered printers with their display names
func (s *Server) handleGetPrinters(c *gin.Context) {
	connected, _ := s.manager.Connected()

	devices := s.manager.Devices()
	views := make([]printerView, len(devices))
	for i, d := range devices {
		views[i] = printerView{Device: d, Label: s.executor.Label(d), Connected: d.ID == connected.ID}
	}

	resp := gin.H{"printers": views}
	if s.registry != nil {
		if last, ok := s.registry.LastDevice(); ok {
			resp["last_device"] = printerView{Device: last, Label: s.executor.Label(last), Connected: last.ID == connected.ID}
		}
	}
	c.JSON(200, resp)
}

// handleScan starts a scan in the background. Devices are pushed over the
// websocket and listed by GET /printers.
func (s *Server) handleScan(c *gin.Context) {
	var req struct {
		TimeoutMS int      `json:"timeout_ms"`
		All       bool     `json:"all"`
		Kinds     []string `json:"kinds"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
	}

	opts := printer.ScanOptions{
		FilterPrinters: !req.All,
		Timeout:        time.Duration(req.TimeoutMS) * time.Millisecond,
		Kinds:          req.Kinds,
	}

	// the scan outlives the request
	found, err := s.manager.Scan(context.Background(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	go func() {
		for range found {
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "scanning": true})
}

func (s *Server) handleStopScan(c *gin.Context) {
	s.manager.StopScan()
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Kind string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "id is required"})
		return
	}

	dev := printer.Device{ID: req.ID, Kind: req.Kind}
	if known, ok := s.manager.GetDevice(req.ID); ok && (req.Kind == "" || req.Kind == known.Kind) {
		dev = known
	}

	if err := s.manager.Connect(c.Request.Context(), dev); err != nil {
		s.store.ReportError(err)
		respondError(c, err)
		return
	}

	connected, _ := s.manager.Connected()
	c.JSON(200, gin.H{"success": true, "device": connected})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.manager.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// handleReconnect answers the reconnect prompt, or reconnects on demand
func (s *Server) handleReconnect(c *gin.Context) {
	s.store.DismissPrompt()
	if err := s.manager.Reconnect(c.Request.Context()); err != nil {
		s.store.ReportError(err)
		respondError(c, err)
		return
	}

	connected, _ := s.manager.Connected()
	c.JSON(200, gin.H{"success": true, "device": connected})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(200, gin.H{"auto_reconnect": s.store.Snapshot().AutoReconnect})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req struct {
		AutoReconnect *bool `json:"auto_reconnect" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "auto_reconnect is required"})
		return
	}

	if err := s.store.SetAutoReconnect(*req.AutoReconnect); err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"auto_reconnect": *req.AutoReconnect})
}

// handleSetPrinterName sets a custom name for a printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "name is required"})
		return
	}
	if s.registry == nil {
		c.JSON(501, gin.H{"error": "printer names are not available"})
		return
	}

	dev, ok := s.manager.GetDevice(c.Param("id"))
	if !ok {
		if last, hasLast := s.registry.LastDevice(); hasLast && last.ID == c.Param("id") {
			dev, ok = last, true
		}
	}
	if !ok {
		if req.Kind == "" {
			c.JSON(404, gin.H{"error": "printer not found"})
			return
		}
		dev = printer.Device{ID: c.Param("id"), Kind: req.Kind}
	}

	if err := s.registry.SetPrinterName(dev, req.Name); err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, gin.H{"success": true, "label": s.registry.Label(dev)})
}

// printRequest carries an order and per-job layout overrides
type printRequest struct {
	Order           *receipt.Order `json:"order"`
	Width           int            `json:"width"`
	IncludeQR       *bool          `json:"include_qr"`
	IncludeCustomer *bool          `json:"include_customer"`
	RasterQR        bool           `json:"raster_qr"`
	// Async queues the job and returns at once
	Async bool `json:"async"`
}

func (r printRequest) overrides() (func(*receipt.Options), error) {
	if r.Width != 0 && r.Width != receipt.Width58mm && r.Width != receipt.Width80mm {
		return nil, errors.New("width must be 32 or 48")
	}
	if r.Width == 0 && r.IncludeQR == nil && r.IncludeCustomer == nil && !r.RasterQR {
		return nil, nil
	}
	return func(o *receipt.Options) {
		if r.Width != 0 {
			o.Width = r.Width
		}
		if r.IncludeQR != nil {
			o.IncludeQR = *r.IncludeQR
		}
		if r.IncludeCustomer != nil {
			o.IncludeCustomerBlock = *r.IncludeCustomer
		}
		if r.RasterQR {
			o.QRMode = receipt.QRRaster
		}
	}, nil
}

func bindPrintRequest(c *gin.Context) (printRequest, func(*receipt.Options), bool) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return req, nil, false
	}
	if req.Order == nil {
		c.JSON(400, gin.H{"error": "order is required"})
		return req, nil, false
	}
	if err := receipt.Validate(req.Order); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return req, nil, false
	}
	apply, err := req.overrides()
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return req, nil, false
	}
	return req, apply, true
}

// handlePrint composes and prints an order
func (s *Server) handlePrint(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, apply, ok := bindPrintRequest(c)
		if !ok {
			return
		}

		if req.Async {
			data, err := s.executor.Compose(kind, req.Order, apply)
			if err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			jobID, err := s.queue.Enqueue(kind, req.Order.Number, data)
			if err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": jobID})
			return
		}

		job, err := s.executor.PrintOrder(c.Request.Context(), kind, req.Order, apply)
		if err != nil {
			resp := gin.H{"success": false, "error": printer.UserMessage(err)}
			if job != nil {
				resp["job_id"] = job.ID
			}
			c.JSON(errorStatus(err), resp)
			return
		}

		c.JSON(200, gin.H{
			"success": true,
			"job_id":  job.ID,
			"bytes":   job.Size,
		})
	}
}

// handlePreview renders an order to PNG
func (s *Server) handlePreview(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, apply, ok := bindPrintRequest(c)
		if !ok {
			return
		}

		png, err := s.executor.PreviewOrder(kind, req.Order, apply)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.Data(200, "image/png", png)
	}
}

// handleGetJobs returns all print jobs
func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(200, gin.H{"jobs": s.queue.GetAllJobs()})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	job := s.queue.GetJob(c.Param("id"))
	if job == nil {
		c.JSON(404, gin.H{"error": "job not found"})
		return
	}
	c.JSON(200, job)
}

// handleRetryJob re-prints a failed job in full
func (s *Server) handleRetryJob(c *gin.Context) {
	jobID, err := s.queue.Retry(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": jobID})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)

	if result.Success {
		response := gin.H{
			"success": true,
		}
		if result.Message != "" {
			response["message"] = result.Message
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(200, response)
	} else {
		response := gin.H{
			"success": false,
			"error":   result.Error,
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(400, response)
	}
}

// Run starts the API server and blocks until Shutdown
func (s *Server) Run(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	log.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
