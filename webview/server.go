package webview

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/Station-Manager/usbbridge"
)

//go:embed assets
var embedded embed.FS

const clientQueueSize = 64

// Backend receives the calls made by the page. *usbbridge.Bridge implements
// it.
type Backend interface {
	IsConnected() bool
	UsbWrite(encoded string)
	LoadAssetToWebView(path string)
	InternalLog(message string)
}

type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server serves the page, the bridge shim and the bridge socket. It is the
// content layer of the Service and, in prompt mode, its permission prompter.
type Server struct {
	addr   string
	assets fs.FS
	logger zerolog.Logger

	mu         sync.RWMutex
	backend    Backend
	metrics    func() any
	lastStatus string

	clients sync.Map // uint64 -> *clientConn
	nextID  atomic.Uint64

	promptMu sync.Mutex
	prompts  map[string]prompt

	httpSrv   *http.Server
	boundAddr atomic.Value
}

type prompt struct {
	dev   usbbridge.DeviceDescriptor
	reply func(bool)
}

// NewServer returns a server listening on addr. Assets are served from
// assetDir, or from the built-in page when assetDir is empty.
func NewServer(addr, assetDir string, logger zerolog.Logger) (*Server, error) {
	var assets fs.FS
	if assetDir == "" {
		sub, err := fs.Sub(embedded, "assets")
		if err != nil {
			return nil, err
		}
		assets = sub
	} else {
		assets = os.DirFS(assetDir)
	}
	return &Server{
		addr:       addr,
		assets:     assets,
		logger:     logger.With().Str("component", "webview").Logger(),
		lastStatus: usbbridge.StatusNotConnected,
		prompts:    make(map[string]prompt),
	}, nil
}

// SetBackend wires the page calls to b.
func (s *Server) SetBackend(b Backend) {
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

// SetMetrics installs the source of the /metrics document.
func (s *Server) SetMetrics(fn func() any) {
	s.mu.Lock()
	s.metrics = fn
	s.mu.Unlock()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", s.handleUpgrade)
	mux.HandleFunc("/bridge.js", s.handleShim)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/", s.assetHandler())
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webview listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info().Str("addr", s.BoundAddr()).Msg("webview started")

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webview serve: %w", err)
	}
	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		_ = cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// OnNewData forwards one inbound frame to every page.
func (s *Server) OnNewData(encoded string) {
	s.broadcast(Frame{Type: FrameTypeData, Payload: encoded})
}

// UpdateUsbStatusText forwards the status text; late pages receive the
// latest one on connect.
func (s *Server) UpdateUsbStatusText(status string) {
	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()
	s.broadcast(Frame{Type: FrameTypeStatus, Text: status})
}

// LoadAsset tells every page to navigate to path.
func (s *Server) LoadAsset(path string) {
	s.broadcast(Frame{Type: FrameTypeNavigate, Path: path})
}

// PromptPermission asks the connected pages to approve dev. The first
// answer wins; pages connecting later are asked too.
func (s *Server) PromptPermission(dev usbbridge.DeviceDescriptor, reply func(granted bool)) error {
	id := ulid.Make().String()
	s.promptMu.Lock()
	s.prompts[id] = prompt{dev: dev, reply: reply}
	s.promptMu.Unlock()

	s.logger.Info().Str("id", id).Stringer("device", dev).Msg("permission prompt issued")
	d := dev
	s.broadcast(Frame{Type: FrameTypePermission, ID: id, Device: &d})
	return nil
}

// Pending returns the number of unanswered permission prompts.
func (s *Server) Pending() int {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return len(s.prompts)
}

func (s *Server) broadcast(frame Frame) {
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn().Str("type", string(frame.Type)).Msg("dropped frame for slow client")
		}
		return true
	})
}

func (s *Server) handleShim(w http.ResponseWriter, r *http.Request) {
	data, err := embedded.ReadFile("assets/bridge.js")
	if err != nil {
		http.Error(w, "shim unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	fn := s.metrics
	s.mu.RUnlock()
	if fn == nil {
		http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		return
	}
	data, err := json.Marshal(fn())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// assetHandler serves the asset directory and falls back to the built-in
// page for the root when the directory has no index.
func (s *Server) assetHandler() http.Handler {
	files := http.FileServer(http.FS(s.assets))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			if _, err := fs.Stat(s.assets, "index.html"); err != nil {
				data, _ := embedded.ReadFile("assets/index.html")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write(data)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan Frame, clientQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info().Uint64("conn_id", connID).Msg("page connected")

	s.greet(cc)
	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(connID)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info().Uint64("conn_id", connID).Msg("page disconnected")
}

// greet queues the current status and any open prompts for a new page.
func (s *Server) greet(cc *clientConn) {
	s.mu.RLock()
	status := s.lastStatus
	s.mu.RUnlock()
	cc.sendCh <- Frame{Type: FrameTypeStatus, Text: status}

	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	for id, p := range s.prompts {
		d := p.dev
		select {
		case cc.sendCh <- Frame{Type: FrameTypePermission, ID: id, Device: &d}:
		default:
		}
	}
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		typ, data, err := cc.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("malformed frame from page")
			continue
		}

		switch frame.Type {
		case FrameTypeCall:
			s.dispatchCall(cc, frame)
		case FrameTypePermission:
			s.answerPrompt(frame)
		default:
			s.logger.Debug().Str("type", string(frame.Type)).Msg("ignoring frame")
		}
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				s.logger.Error().Err(err).Msg("encoding frame")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = cc.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) dispatchCall(cc *clientConn, req Frame) {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	resp := Frame{Type: FrameTypeResult, ID: req.ID}
	arg := func() (string, bool) {
		if len(req.Args) != 1 {
			resp.Error = fmt.Sprintf("%s expects 1 argument, got %d", req.Method, len(req.Args))
			return "", false
		}
		return req.Args[0], true
	}

	switch {
	case backend == nil:
		resp.Error = "bridge not ready"
	case req.Method == MethodIsConnected:
		resp.Result = backend.IsConnected()
	case req.Method == MethodUsbWrite:
		if a, ok := arg(); ok {
			backend.UsbWrite(a)
			resp.Result = true
		}
	case req.Method == MethodLoadAssetToWebView:
		if a, ok := arg(); ok {
			backend.LoadAssetToWebView(a)
			resp.Result = true
		}
	case req.Method == MethodInternalLog, req.Method == methodInternalLogJS:
		if a, ok := arg(); ok {
			backend.InternalLog(a)
			resp.Result = true
		}
	default:
		resp.Error = "unknown method: " + req.Method
	}

	if req.ID == "" {
		return
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	}
}

func (s *Server) answerPrompt(frame Frame) {
	s.promptMu.Lock()
	p, ok := s.prompts[frame.ID]
	delete(s.prompts, frame.ID)
	s.promptMu.Unlock()

	if !ok {
		s.logger.Debug().Str("id", frame.ID).Msg("answer for unknown or settled prompt")
		return
	}
	granted := frame.Granted != nil && *frame.Granted
	s.logger.Info().Str("id", frame.ID).Stringer("device", p.dev).Bool("granted", granted).Msg("permission prompt answered")
	p.reply(granted)
}
