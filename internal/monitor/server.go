// Package monitor serves the live resilience feed: an HTTP endpoint
// that upgrades to WebSocket and broadcasts breaker transitions to
// every subscriber, plus controller status and metrics scraping on the
// same mux.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcmill/arcmill/internal/config"
	"github.com/arcmill/arcmill/internal/events"
	"github.com/arcmill/arcmill/internal/resilience"
)

// Server fans breaker transitions out to WebSocket subscribers. Each
// subscriber gets a buffered queue; one that stops draining is dropped
// so a stalled reader never blocks the feed.
type Server struct {
	controller *resilience.Controller
	metrics    http.Handler
	cfg        config.MonitorConfig
	logger     *events.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool

	feed        chan resilience.Transition
	done        chan struct{}
	unsubscribe func()

	httpServer *http.Server
}

type subscriber struct {
	conn *websocket.Conn
	send chan resilience.Transition
	once sync.Once
	done chan struct{}
}

func (c *subscriber) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewServer wires the feed to a controller. metricsHandler may be nil
// when no scrape endpoint is wanted. Close releases the controller
// subscription.
func NewServer(controller *resilience.Controller, metricsHandler http.Handler, cfg config.MonitorConfig, logger *events.Logger) *Server {
	s := &Server{
		controller: controller,
		metrics:    metricsHandler,
		cfg:        cfg,
		logger:     logger.WithField("component", "monitor"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*subscriber]struct{}),
		feed:    make(chan resilience.Transition, 64),
		done:    make(chan struct{}),
	}

	// The controller invokes observers under its lock; hand the
	// transition off without ever blocking there.
	s.unsubscribe = controller.Subscribe(func(tr resilience.Transition) {
		select {
		case s.feed <- tr:
		default:
		}
	})

	go s.broadcastLoop()
	return s
}

// Handler returns the mux serving /ws, /status, and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Serve listens on the configured address until ctx ends, then shuts
// the listener down and closes the feed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.WithField("listen", s.cfg.Listen).Info("Monitor listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		s.Close()
		return nil
	case err := <-errCh:
		s.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close drops every subscriber and detaches from the controller. Safe
// to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.clients))
	for c := range s.clients {
		subs = append(subs, c)
	}
	s.clients = make(map[*subscriber]struct{})
	s.mu.Unlock()

	s.unsubscribe()
	close(s.done)
	for _, c := range subs {
		c.shutdown()
	}

	s.logger.Info("Monitor closed")
}

// SubscriberCount reports how many WebSocket clients are attached.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &subscriber{
		conn: conn,
		send: make(chan resilience.Transition, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"remote":      r.RemoteAddr,
		"subscribers": count,
	}).Info("Subscriber connected")

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		QueueDepth int                          `json:"queue_depth"`
		Running    int                          `json:"running"`
		Breakers   []resilience.BreakerSnapshot `json:"breakers"`
		Pools      []resilience.PoolStats       `json:"pools"`
		Operations []resilience.OpMetrics       `json:"operations"`
	}{
		QueueDepth: s.controller.QueueDepth(),
		Running:    s.controller.Running(),
		Breakers:   s.controller.Breakers(),
		Pools:      s.controller.PoolStats(),
		Operations: s.controller.AllMetrics(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.WithError(err).Debug("Status encode failed")
	}
}

// broadcastLoop moves transitions from the controller feed to every
// subscriber queue. A full queue drops its subscriber on the spot.
func (s *Server) broadcastLoop() {
	for {
		select {
		case tr := <-s.feed:
			s.mu.Lock()
			var slow []*subscriber
			for c := range s.clients {
				select {
				case c.send <- tr:
				default:
					delete(s.clients, c)
					slow = append(slow, c)
				}
			}
			s.mu.Unlock()

			for _, c := range slow {
				c.shutdown()
				s.logger.Warn("Dropped slow subscriber")
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) writeLoop(c *subscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.removeSubscriber(c)
	}()

	for {
		select {
		case tr := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(tr); err != nil {
				s.logger.WithError(err).Debug("Subscriber write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readLoop exists to notice the peer going away. The feed is one way;
// anything the client sends beyond control frames is ignored.
func (s *Server) readLoop(c *subscriber) {
	defer s.removeSubscriber(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.WriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.WriteTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("Subscriber read error")
			}
			return
		}
	}
}

func (s *Server) removeSubscriber(c *subscriber) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	c.shutdown()
	if present {
		s.logger.Debug("Subscriber disconnected")
	}
}
