// internal/api/handlers.go
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/publish"
)

func (s *Server) healthz(c *gin.Context) {
	st := s.ctl.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.appeared).String(),
		"session": st.Name,
		"state":   st.State,
		"health":  st.Health,
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) run(c *gin.Context) {
	if err := s.ctl.Run(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.ctl.Status().State})
}

func (s *Server) wait(c *gin.Context) {
	if err := s.ctl.Wait(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.ctl.Status().State})
}

type socRequest struct {
	Percent *float64 `json:"percent" binding:"required"`
}

func (s *Server) setSOC(c *gin.Context) {
	var req socRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctl.SetSOC(*req.Percent); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"percent": *req.Percent})
}

type periodicRequest struct {
	Request  string `json:"request" binding:"required"`
	PeriodMs *int   `json:"period_ms"` // omitted: keep the current period
}

func (s *Server) putPeriodic(c *gin.Context) {
	var req periodicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := command.ParseRequestKind(req.Request)
	if err != nil {
		fail(c, err)
		return
	}

	period := time.Duration(s.ctl.Status().PeriodMs) * time.Millisecond
	if req.PeriodMs != nil {
		period = time.Duration(*req.PeriodMs) * time.Millisecond
	}

	if err := s.ctl.RequestState(kind, period); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": kind.String(), "period_ms": period.Milliseconds()})
}

func (s *Server) deletePeriodic(c *gin.Context) {
	if err := s.ctl.StopRequests(); err != nil {
		fail(c, err)
		return
	}
	st := s.ctl.Status()
	c.JSON(http.StatusOK, gin.H{"request": st.Request, "period_ms": st.PeriodMs})
}

// events streams decoded events as server-sent events until the client
// goes away. Each connection gets its own subscription.
func (s *Server) events(c *gin.Context) {
	sub := s.ctl.Subscribe()
	defer sub.Close()

	st := s.ctl.Status()
	ctx := c.Request.Context()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		rec, err := sub.Next(ctx)
		if err != nil {
			return false
		}
		kind := rec.Event.Kind().String()
		c.SSEvent(kind, publish.Envelope{
			Session:   st.Name,
			SessionID: st.ID,
			Kind:      kind,
			At:        rec.At.UTC(),
			Event:     rec.Event,
		})
		return true
	})
}
