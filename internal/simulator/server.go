package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

type Config struct {
	Port    int
	Session SessionConfig
}

// Server is the local stand-in for the load/test service. The operator
// commands can be pointed at it instead of a real load generator instance.
type Server struct {
	config     Config
	registry   *Registry
	hub        *Hub
	httpServer *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	s := &Server{
		config:   cfg,
		registry: NewRegistry(cfg.Session),
		hub:      NewHub(),
	}
	go s.hub.Run()
	return s
}

// Registry exposes the session store so integration tests can inspect state.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/test/horizontal", s.startSession(models.ModeHorizontal))
	router.GET("/autoscaling", s.startSession(models.ModeAutoscaling))
	router.GET("/warmup", s.startSession(models.ModeWarmup))
	router.GET("/test/horizontal/add", s.addWorker)
	router.GET("/log", s.renderLog)
	router.GET("/ws", s.serveWS)

	return router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Infof("Load generator simulator listening on %s", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Simulator server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) startSession(mode models.TestMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		dns := c.Query("dns")
		if dns == "" {
			c.String(http.StatusBadRequest, "missing dns parameter")
			return
		}
		session := s.registry.Start(mode, dns)
		logger.WithTest(session.LogID).Infof("Session started: mode=%s first worker=%s", mode, dns)
		s.broadcastEvent(models.EventTypeTestStarted, session)

		c.String(http.StatusOK, "Test started against %s. Follow the log at name=%s", dns, session.LogID)
	}
}

func (s *Server) addWorker(c *gin.Context) {
	dns := c.Query("dns")
	if dns == "" {
		c.String(http.StatusBadRequest, "missing dns parameter")
		return
	}

	session, err := s.registry.Active()
	if err != nil {
		c.String(http.StatusConflict, "no test running")
		return
	}
	if err := session.AddWorker(dns); err != nil {
		c.String(http.StatusConflict, "worker rejected: %v", err)
		return
	}

	logger.WithTest(session.LogID).Infof("Worker added: %s (now %d)", dns, session.WorkerCount())
	s.broadcastEvent(models.EventTypeWorkerRegistered, session)
	c.String(http.StatusOK, "Worker %s added to name=%s", dns, session.LogID)
}

func (s *Server) renderLog(c *gin.Context) {
	name := c.Query("name")
	session, ok := s.registry.Get(name)
	if !ok {
		c.String(http.StatusNotFound, "unknown log: %s", name)
		return
	}
	c.String(http.StatusOK, session.RenderLog(s.registry.cfg.Now()))
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	client := newWSClient(s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) broadcastEvent(eventType models.EventType, session *Session) {
	now := s.registry.cfg.Now()
	payload, err := json.Marshal(gin.H{
		"type":    string(eventType),
		"test_id": session.LogID,
		"mode":    string(session.Mode),
		"workers": session.WorkerCount(),
		"rps":     session.CurrentRPS(now),
		"time":    now.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(payload)
}
