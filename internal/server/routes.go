package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/lagom/internal/coordinator"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/protocol"
	"github.com/danmuck/lagom/internal/store"
)

// NegotiateRequest is the body of POST /negotiate. Relationship overrides the
// stored relationship for this call only.
type NegotiateRequest struct {
	InitiatorID  string                 `json:"initiator_id"`
	ReceiverID   string                 `json:"receiver_id"`
	Relationship *protocol.Relationship `json:"relationship,omitempty"`
}

func (r NegotiateRequest) Validate() error {
	if strings.TrimSpace(r.InitiatorID) == "" || strings.TrimSpace(r.ReceiverID) == "" {
		return errors.New("server: initiator_id and receiver_id are required")
	}
	return nil
}

// BatchRequest is the body of POST /negotiate/batch.
type BatchRequest struct {
	Pairs []coordinator.Pair `json:"pairs"`
}

const maxBatchPairs = 64

func (r BatchRequest) Validate() error {
	if len(r.Pairs) == 0 {
		return errors.New("server: pairs is empty")
	}
	if len(r.Pairs) > maxBatchPairs {
		return errors.New("server: too many pairs")
	}
	for _, p := range r.Pairs {
		if strings.TrimSpace(p.InitiatorID) == "" || strings.TrimSpace(p.ReceiverID) == "" {
			return errors.New("server: every pair needs initiator_id and receiver_id")
		}
	}
	return nil
}

// ParticipantView is a participant without raw calendar entries. Event
// titles never leave the daemon.
type ParticipantView struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Status     protocol.Status          `json:"status"`
	Policy     protocol.Policy          `json:"policy"`
	Filters    protocol.CalendarFilters `json:"filters"`
	EventCount int                      `json:"event_count"`
}

func viewOf(p protocol.Participant) ParticipantView {
	return ParticipantView{
		ID:         p.ID,
		Name:       p.Name,
		Status:     p.Status,
		Policy:     p.Policy,
		Filters:    p.Calendar.Filters,
		EventCount: len(p.Calendar.Events),
	}
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.coord != nil && s.store != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	routes := s.protected()
	routes.POST("/negotiate", s.handleNegotiate)
	routes.POST("/negotiate/batch", s.handleBatch)
	routes.GET("/participants", s.handleListParticipants)
	routes.GET("/participants/:id", s.handleGetParticipant)
	routes.PUT("/participants/:id", s.handlePutParticipant)
	routes.GET("/participants/:id/bookings", s.handleBookings)
	routes.GET("/relationships/:initiator/:target", s.handleGetRelationship)
	routes.PUT("/relationships/:initiator/:target", s.handlePutRelationship)
}

func (s *Server) handleNegotiate(c *gin.Context) {
	var req NegotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.coord.Negotiate(c.Request.Context(), req.InitiatorID, req.ReceiverID, req.Relationship)
	if err != nil {
		if errors.Is(err, coordinator.ErrPersist) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := s.coord.NegotiateMany(c.Request.Context(), req.Pairs)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleListParticipants(c *gin.Context) {
	list, err := s.store.Participants(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	views := make([]ParticipantView, 0, len(list))
	for _, p := range list {
		views = append(views, viewOf(p))
	}
	c.JSON(http.StatusOK, gin.H{"participants": views})
}

func (s *Server) handleGetParticipant(c *gin.Context) {
	p, err := s.store.Participant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(p))
}

func (s *Server) handlePutParticipant(c *gin.Context) {
	var p protocol.Participant
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.ID == "" {
		p.ID = c.Param("id")
	}
	if p.ID != c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server: body id does not match path"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.PutParticipant(c.Request.Context(), p); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(p))
}

func (s *Server) handleBookings(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Participant(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	until := time.Now()
	since := until.AddDate(0, 0, -7)
	var err error
	if raw := c.Query("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "server: since must be RFC3339"})
			return
		}
	}
	if raw := c.Query("until"); raw != "" {
		if until, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "server: until must be RFC3339"})
			return
		}
	}
	bookings, err := s.store.Bookings(c.Request.Context(), id, since, until)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (s *Server) handleGetRelationship(c *gin.Context) {
	rel, err := s.store.Relationship(c.Request.Context(), c.Param("initiator"), c.Param("target"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (s *Server) handlePutRelationship(c *gin.Context) {
	var rel protocol.Relationship
	if err := c.ShouldBindJSON(&rel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rel.InitiatorID = c.Param("initiator")
	rel.TargetID = c.Param("target")
	if err := rel.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.PutRelationship(c.Request.Context(), rel); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rel)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownParticipant),
		errors.Is(err, coordinator.ErrUnknownRelationship),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, handshake.ErrAbandoned):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
