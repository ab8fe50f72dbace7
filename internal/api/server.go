// Package api is the HTTP surface of the service: document upload and
// listing, task submission, result polling and the live status feed.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/docpipe/docpipe/internal/dispatch"
	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/history"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/ws"
)

type Server struct {
	dispatcher *dispatch.Dispatcher
	q          *queue.Queue
	objects    store.ObjectStore
	extractor  extract.Extractor
	hist       history.Store
	hub        *ws.Hub
	models     []string
	upgrader   websocket.Upgrader
}

// New wires the HTTP server. hist and hub may be nil when the ledger or the
// live feed are not deployed.
func New(dispatcher *dispatch.Dispatcher, q *queue.Queue, objects store.ObjectStore, extractor extract.Extractor, hist history.Store, hub *ws.Hub, models []string) *Server {
	return &Server{
		dispatcher: dispatcher,
		q:          q,
		objects:    objects,
		extractor:  extractor,
		hist:       hist,
		hub:        hub,
		models:     models,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/models", s.listModels)

	router.POST("/upload", s.uploadDocument)
	router.GET("/documents", s.listDocuments)
	router.GET("/documents/:name", s.getDocument)

	router.POST("/summarize", s.submitSummarize)
	router.POST("/ask", s.submitQuestion)
	router.GET("/result/:task_id", s.getResult)
	router.GET("/tasks", s.listTasks)

	router.GET("/ws", s.serveWS)
	return router
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.Count()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.models})
}

func (s *Server) serveWS(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live feed not enabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.hub.Add(conn)
}
