// internal/web/handlers.go - REST handlers for snapshots and write actions
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stearz/Nagstamon/internal/backend"
	"github.com/stearz/Nagstamon/internal/status"
)

type backendStatus struct {
	Backend  string           `json:"backend"`
	Snapshot *status.Snapshot `json:"snapshot"`
	Result   status.Result    `json:"result"`
}

func (s *Server) getStatus(c *gin.Context) {
	var statuses []backendStatus
	for _, name := range s.engine.Backends() {
		snapshot, result, _ := s.engine.Snapshot(name)
		statuses = append(statuses, backendStatus{Backend: name, Snapshot: snapshot, Result: result})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  statuses,
		"count": len(statuses),
	})
}

func (s *Server) getBackendStatus(c *gin.Context) {
	name := c.Param("backend")

	snapshot, result, ok := s.engine.Snapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backend not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": backendStatus{Backend: name, Snapshot: snapshot, Result: result},
	})
}

func (s *Server) getBackends(c *gin.Context) {
	names := s.engine.Backends()
	c.JSON(http.StatusOK, gin.H{
		"data":  names,
		"count": len(names),
	})
}

func (s *Server) getMonitorURL(c *gin.Context) {
	name := c.Param("backend")

	adapter, ok := s.engine.Adapter(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backend not found"})
		return
	}

	host := c.Query("host")
	payload := gin.H{
		"url": adapter.MonitorURL(host, c.Query("service")),
	}
	if resolver, ok := adapter.(backend.AddressResolver); ok && host != "" {
		payload["host_address"] = resolver.HostAddress(host)
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) refreshBackend(c *gin.Context) {
	name := c.Param("backend")

	if !s.engine.Refresh(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backend not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested"})
}

type acknowledgeRequest struct {
	Backend     string   `json:"backend" binding:"required"`
	Host        string   `json:"host" binding:"required"`
	Service     string   `json:"service"`
	Author      string   `json:"author"`
	Comment     string   `json:"comment"`
	Sticky      bool     `json:"sticky"`
	Notify      bool     `json:"notify"`
	Persistent  bool     `json:"persistent"`
	AllServices []string `json:"all_services"`
	ExpireAt    string   `json:"expire_at"`
}

func (s *Server) acknowledge(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := backend.AcknowledgeRequest{
		Host:        req.Host,
		Service:     req.Service,
		Author:      req.Author,
		Comment:     req.Comment,
		Sticky:      req.Sticky,
		Notify:      req.Notify,
		Persistent:  req.Persistent,
		AllServices: req.AllServices,
	}
	if req.ExpireAt != "" {
		expireAt, err := time.Parse(time.RFC3339, req.ExpireAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expire_at must be RFC3339"})
			return
		}
		action.ExpireAt = expireAt
	}

	if err := s.engine.Acknowledge(c.Request.Context(), req.Backend, action); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"backend": req.Backend,
			"host":    req.Host,
			"service": req.Service,
		}).Error("Acknowledge failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

type downtimeRequest struct {
	Backend string `json:"backend" binding:"required"`
	Host    string `json:"host" binding:"required"`
	Service string `json:"service"`
	Author  string `json:"author"`
	Comment string `json:"comment"`
	Fixed   bool   `json:"fixed"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Hours   int    `json:"hours"`
	Minutes int    `json:"minutes"`
}

func (s *Server) setDowntime(c *gin.Context) {
	var req downtimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adapter, ok := s.engine.Adapter(req.Backend)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backend not found"})
		return
	}

	// fall back to the backend's suggested window when times are omitted
	start, end := adapter.DefaultDowntimeWindow()
	if req.Start != "" {
		parsed, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		start = parsed
	}
	if req.End != "" {
		parsed, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		end = parsed
	}

	action := backend.DowntimeRequest{
		Host:    req.Host,
		Service: req.Service,
		Author:  req.Author,
		Comment: req.Comment,
		Fixed:   req.Fixed,
		Start:   start,
		End:     end,
		Hours:   req.Hours,
		Minutes: req.Minutes,
	}

	if err := s.engine.SetDowntime(c.Request.Context(), req.Backend, action); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"backend": req.Backend,
			"host":    req.Host,
			"service": req.Service,
		}).Error("Downtime failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "downtime scheduled"})
}

type recheckRequest struct {
	Backend string `json:"backend" binding:"required"`
	Host    string `json:"host"`
	Service string `json:"service"`
}

func (s *Server) recheck(c *gin.Context) {
	var req recheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := backend.RecheckRequest{Host: req.Host, Service: req.Service}
	if err := s.engine.Recheck(c.Request.Context(), req.Backend, action); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"backend": req.Backend,
			"host":    req.Host,
			"service": req.Service,
		}).Error("Recheck failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recheck scheduled"})
}

func (s *Server) recheckAll(c *gin.Context) {
	var req recheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.RecheckAll(c.Request.Context(), req.Backend); err != nil {
		logrus.WithError(err).WithField("backend", req.Backend).Error("Recheck all failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recheck scheduled"})
}
