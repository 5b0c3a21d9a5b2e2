// Package ingest exposes the relay over plain HTTP for hosts that cannot
// hold a websocket open, and for operators.
package ingest

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"badgeup.io/relay/internal/protocol"
	"badgeup.io/relay/internal/relay"
)

type Server struct {
	rt  *relay.Runtime
	log *log.Logger
}

func NewServer(rt *relay.Runtime, logger *log.Logger) *Server {
	return &Server{rt: rt, log: logger}
}

// Router builds the gin engine. extra handlers (the websocket endpoint) are
// mounted under GET when given.
func (s *Server) Router(extra map[string]http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.accessLog())
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ts": time.Now().UTC().Format(time.RFC3339)})
	})
	for path, h := range extra {
		r.GET(path, gin.WrapH(h))
	}

	v1 := r.Group("/v1")
	v1.POST("/events", s.postEvent)
	v1.GET("/progress/:subject", s.getProgress)
	v1.GET("/stats", s.getStats)
	v1.GET("/outcomes", s.getOutcomes)
	v1.GET("/outcomes/summary", s.getOutcomeSummary)
	return r
}

func (s *Server) postEvent(c *gin.Context) {
	var m protocol.BlockChangeMsg
	if err := c.ShouldBindJSON(&m); err != nil {
		abort(c, protocol.Wrap(protocol.ErrProtoBadRequest, "", err))
		return
	}
	if m.ProtocolVersion == "" {
		m.ProtocolVersion = protocol.Version
	}
	if m.ProtocolVersion != protocol.Version {
		abort(c, protocol.Errorf(protocol.ErrProtoBadRequest, "protocol_version", "want %s", protocol.Version))
		return
	}
	n, err := s.rt.BlockChange(m)
	if err != nil {
		abort(c, err)
		return
	}
	// Delivery is asynchronous; accepted means queued (or dropped and counted).
	c.JSON(http.StatusAccepted, gin.H{"submitted": n})
}

func (s *Server) getProgress(c *gin.Context) {
	entries, err := s.rt.Progress(c.Request.Context(), c.Param("subject"))
	if err != nil {
		s.printf("ingest: progress %s: %v", c.Param("subject"), err)
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		Entries:         relay.ProgressEntries(entries),
	})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.rt.Stats())
}

func (s *Server) getOutcomes(c *gin.Context) {
	idx := s.rt.Index()
	if idx == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outcome index disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := idx.Recent(c.Request.Context(), c.Query("subject"), limit)
	if err != nil {
		abort(c, protocol.Wrap(protocol.ErrInternal, "", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": rows})
}

func (s *Server) getOutcomeSummary(c *gin.Context) {
	idx := s.rt.Index()
	if idx == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outcome index disabled"})
		return
	}
	sum, err := idx.Summarize(c.Request.Context())
	if err != nil {
		abort(c, protocol.Wrap(protocol.ErrInternal, "", err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.printf("ingest: %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

func (s *Server) printf(format string, args ...any) {
	if s != nil && s.log != nil {
		s.log.Printf(format, args...)
	}
}

func abort(c *gin.Context, err error) {
	code := protocol.WireCode(err)
	c.AbortWithStatusJSON(httpStatus(code), protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         err.Error(),
	})
}

func httpStatus(code string) int {
	switch code {
	case protocol.ErrMissingField, protocol.ErrMalformedValue, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrLookupNotFound:
		return http.StatusNotFound
	case protocol.ErrTimeout:
		return http.StatusGatewayTimeout
	case protocol.ErrRemoteFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
