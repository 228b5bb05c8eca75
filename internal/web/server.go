package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"photo-shrink-go/internal/batch"
	"photo-shrink-go/internal/compressor"
	"photo-shrink-go/internal/config"
	"photo-shrink-go/internal/metadata"
	"photo-shrink-go/internal/statistics"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	engine     compressor.Compressor
	checker    metadata.MarkerChecker
	marker     metadata.Marker
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current job state
	operationMutex sync.RWMutex
	isRunning      bool
	jobID          string
	cancelJob      context.CancelFunc
	jobDone        chan struct{}
	currentStats   *statistics.Statistics
	lastResults    []batch.FileResult
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JobRequest starts a filesystem batch job.
type JobRequest struct {
	Paths           []string `json:"paths"`
	TargetDirectory string   `json:"target_directory,omitempty"`
	DryRun          bool     `json:"dry_run"`
	TargetSizeKB    float64  `json:"target_size_kb,omitempty"`
}

// BatchItem is one entry of a /api/compress/batch response.
type BatchItem struct {
	Name    string                        `json:"name"`
	Success bool                          `json:"success"`
	Result  *compressor.CompressionResult `json:"result,omitempty"`
	Data    []byte                        `json:"data,omitempty"`
	ETag    string                        `json:"etag,omitempty"`
	Error   string                        `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ServerOption configures optional collaborators.
type ServerOption func(*Server)

// WithMarkerChecker sets the checker handed to batch jobs.
func WithMarkerChecker(c metadata.MarkerChecker) ServerOption {
	return func(s *Server) { s.checker = c }
}

// WithMarker sets the marker handed to batch jobs.
func WithMarker(m metadata.Marker) ServerOption {
	return func(s *Server) { s.marker = m }
}

func NewServer(cfg *config.Config, log *logrus.Logger, engine compressor.Compressor, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/compress/batch", s.handleCompressBatch).Methods("POST")
	api.HandleFunc("/jobs", s.handleStartJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running job and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancelJob != nil {
		s.cancelJob()
	}
	done := s.jobDone
	s.operationMutex.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	jobID := s.jobID
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"job_id":     jobID,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	opts, err := s.requestOptions(r)
	if err != nil {
		s.writeError(w, err.Error(), statusForError(err))
		return
	}

	res, err := s.engine.Compress(r.Context(), data, uploadFormat(header), opts)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"file":      header.Filename,
			"operation": "compress",
		}).WithError(err).Warn("Upload compression failed")
		s.writeError(w, err.Error(), statusForError(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", string(res.OutputFormat))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputName(header.Filename, res, s.cfg.Batch.OutputSuffix)))
	h.Set("X-Original-Size-KB", strconv.FormatFloat(res.OriginalSizeKB, 'f', 2, 64))
	h.Set("X-Compressed-Size-KB", strconv.FormatFloat(res.CompressedSizeKB, 'f', 2, 64))
	h.Set("X-Compression-Ratio", strconv.FormatFloat(res.CompressionRatioPercent, 'f', 2, 64))
	h.Set("X-Quality", res.QualityUsed.String())
	h.Set("X-Final-Dimensions", fmt.Sprintf("%dx%d", res.FinalWidth, res.FinalHeight))
	h.Set("X-Target-Met", strconv.FormatBool(res.TargetMet))
	h.Set("ETag", etag(res.EncodedBytes))
	h.Set("Content-Length", strconv.Itoa(len(res.EncodedBytes)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.EncodedBytes)
}

func (s *Server) handleCompressBatch(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	headers := r.MultipartForm.File["files[]"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		s.writeError(w, "At least one file is required", http.StatusBadRequest)
		return
	}

	opts, err := s.requestOptions(r)
	if err != nil {
		s.writeError(w, err.Error(), statusForError(err))
		return
	}

	inputs := make([]compressor.Input, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		inputs = append(inputs, compressor.Input{Name: fh.Filename, Data: data, MimeType: uploadFormat(fh)})
	}

	results := s.engine.CompressMany(r.Context(), inputs, opts, func(percent float64, completed, total int) {
		s.broadcastWSMessage("compress_progress", map[string]interface{}{
			"percent":   percent,
			"completed": completed,
			"total":     total,
		})
	})

	items := make([]BatchItem, len(results))
	for i, res := range results {
		items[i] = BatchItem{Name: res.Name, Success: res.Success()}
		if res.Success() {
			items[i].Result = res.Result
			items[i].Data = res.Result.EncodedBytes
			items[i].ETag = etag(res.Result.EncodedBytes)
		} else if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    items,
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Paths) == 0 {
		s.writeError(w, "At least one path is required", http.StatusBadRequest)
		return
	}
	for _, p := range req.Paths {
		if _, err := os.Stat(p); err != nil {
			s.writeError(w, fmt.Sprintf("Path does not exist: %s", p), http.StatusBadRequest)
			return
		}
	}

	// Create temporary config for the job
	cfg := *s.cfg
	if req.TargetDirectory != "" {
		cfg.Batch.TargetDirectory = req.TargetDirectory
	}
	cfg.Batch.DryRun = req.DryRun
	if req.TargetSizeKB != 0 {
		cfg.Compression.TargetSizeKB = req.TargetSizeKB
	}
	if err := cfg.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	jobID := uuid.NewString()
	stats := statistics.NewStatistics()
	done := make(chan struct{})
	s.isRunning = true
	s.jobID = jobID
	s.cancelJob = cancel
	s.jobDone = done
	s.currentStats = stats
	s.lastResults = nil
	s.operationMutex.Unlock()

	go s.runJobAsync(ctx, jobID, &cfg, req.Paths, stats, done)

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Job started",
		Data:    map[string]string{"job_id": jobID},
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()

	if id != s.jobID {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"job_id":     s.jobID,
			"running":    s.isRunning,
			"statistics": s.currentStats.Snapshot(),
			"results":    s.lastResults,
		},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	running := s.isRunning
	if running {
		s.cancelJob()
	}
	s.operationMutex.Unlock()

	if !running {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopped",
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": stats.GetSummary(),
			"files":   stats.Snapshot(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runJobAsync(ctx context.Context, jobID string, cfg *config.Config, paths []string, stats *statistics.Statistics, done chan struct{}) {
	s.broadcastWSMessage("job_started", map[string]interface{}{
		"job_id":           jobID,
		"paths":            paths,
		"target_directory": cfg.Batch.TargetDirectory,
		"dry_run":          cfg.Batch.DryRun,
	})

	runner := batch.NewRunner(cfg, s.log, stats, s.engine,
		batch.WithMarkerChecker(s.checker),
		batch.WithMarker(s.marker),
		batch.WithProgressHook(func(p batch.Progress) {
			s.broadcastWSMessage("job_progress", p)
		}),
		batch.WithLogHook(func(level, message string) {
			s.broadcastWSMessage("log", map[string]string{"level": level, "message": message})
		}),
	)

	results, err := runner.Run(ctx, paths)

	s.operationMutex.Lock()
	s.isRunning = false
	s.cancelJob = nil
	s.lastResults = results
	s.operationMutex.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		s.broadcastWSMessage("job_stopped", map[string]interface{}{
			"job_id":     jobID,
			"statistics": stats.Snapshot(),
		})
	case err != nil:
		s.broadcastWSMessage("job_error", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	default:
		s.broadcastWSMessage("job_completed", map[string]interface{}{
			"job_id":     jobID,
			"statistics": stats.Snapshot(),
			"summary":    stats.GetSummary(),
		})
	}
	close(done)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// A connection supports one writer at a time.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

// parseUpload reads the multipart form within the configured upload limit.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.writeError(w, "Invalid multipart form", http.StatusBadRequest)
		return false
	}
	return true
}

// requestOptions applies query overrides to the configured compression
// options.
func (s *Server) requestOptions(r *http.Request) (compressor.CompressionOptions, error) {
	cfg := *s.cfg
	q := r.URL.Query()

	floatParam := func(name string, dst *float64) error {
		if v := q.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return compressor.NewConfigError(name, v, err)
			}
			*dst = f
		}
		return nil
	}
	intParam := func(name string, dst *int) error {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return compressor.NewConfigError(name, v, err)
			}
			*dst = n
		}
		return nil
	}

	if err := floatParam("target_size_kb", &cfg.Compression.TargetSizeKB); err != nil {
		return compressor.CompressionOptions{}, err
	}
	if err := intParam("max_width", &cfg.Compression.MaxWidth); err != nil {
		return compressor.CompressionOptions{}, err
	}
	if err := intParam("max_height", &cfg.Compression.MaxHeight); err != nil {
		return compressor.CompressionOptions{}, err
	}
	if v := q.Get("format"); v != "" {
		cfg.Compression.OutputFormat = v
	}
	if v := q.Get("escalation"); v != "" {
		cfg.Compression.Escalation = v
	}
	if v := q.Get("sharpen"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return compressor.CompressionOptions{}, compressor.NewConfigError("sharpen", v, err)
		}
		cfg.Compression.Sharpen = b
	}
	return cfg.CompressionOptions()
}

func statusForError(err error) int {
	switch {
	case compressor.IsConfigError(err):
		return http.StatusBadRequest
	case compressor.IsDecodeError(err), errors.Is(err, compressor.ErrUnsupportedFormat), errors.Is(err, compressor.ErrEmptyInput):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// uploadFormat prefers the part's Content-Type and falls back to the
// file name extension.
func uploadFormat(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if _, err := compressor.ParseFormat(ct); err == nil {
		return ct
	}
	return filepath.Ext(fh.Filename)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func outputName(filename string, res *compressor.CompressionResult, suffix string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if name == "" || name == "." {
		name = "image"
	}
	if !res.KeptOriginal() || ext == "" {
		ext = "." + res.OutputFormat.Extension()
	}
	return name + suffix + ext
}

func etag(data []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
