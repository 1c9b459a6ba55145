package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/host"
	"github.com/KevinKickass/PinBridge/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StartRequest struct {
	Machine string `json:"machine"`
}

type StopRequest struct {
	Reason string `json:"reason"`
	Sync   bool   `json:"sync"`
}

type SwitchRequest struct {
	Closed *bool `json:"closed" binding:"required"`
}

// writeBridgeError maps bridge and host loop errors to API errors.
func (s *Server) writeBridgeError(c *gin.Context, message string, err error) {
	status, code := http.StatusInternalServerError, types.CodeBridgeInternal
	switch {
	case errors.Is(err, bridge.ErrUnknownMachine):
		status, code = http.StatusNotFound, types.CodeMachineNotFound
	case errors.Is(err, bridge.ErrUnknownDevice):
		status, code = http.StatusNotFound, types.CodeDeviceNotFound
	case errors.Is(err, bridge.ErrNotIdle), errors.Is(err, bridge.ErrCancelled):
		status, code = http.StatusConflict, types.CodeBridgeConflict
	case errors.Is(err, host.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, types.CodeBridgeUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(message, zap.Error(err))
	}
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}

// GET /api/v1/bridge/status
func (s *Server) getBridgeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Bridge().Status())
}

// POST /api/v1/bridge/start
func (s *Server) startBridge(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBridgeBadRequest, "Invalid request body", err.Error()))
			return
		}
	}
	if req.Machine == "" {
		req.Machine = s.cfg.Bridge.Machine
	}
	if req.Machine == "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBridgeBadRequest, "No machine given and none configured", nil))
		return
	}

	if err := s.lm.Bridge().Start(c.Request.Context(), req.Machine); err != nil {
		s.writeBridgeError(c, "Failed to start machine", err)
		return
	}

	c.JSON(http.StatusOK, s.lm.Bridge().Status())
}

// POST /api/v1/bridge/stop
func (s *Server) stopBridge(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBridgeBadRequest, "Invalid request body", err.Error()))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "api"
	}
	if c.Query("sync") == "true" || s.cfg.Bridge.StopMode == "sync" {
		req.Sync = true
	}

	s.lm.Bridge().Stop(req.Reason, req.Sync)

	status := http.StatusAccepted
	if req.Sync {
		status = http.StatusOK
	}
	c.JSON(status, s.lm.Bridge().Status())
}

// POST /api/v1/bridge/speed
func (s *Server) toggleSpeed(c *gin.Context) {
	if err := s.lm.Bridge().ToggleSpeed(c.Request.Context()); err != nil {
		s.writeBridgeError(c, "Failed to toggle speed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "speed toggle requested"})
}

// GET /api/v1/bridge/displays
func (s *Server) listDisplays(c *gin.Context) {
	displays, err := s.lm.Bridge().Displays(c.Request.Context())
	if err != nil {
		s.writeBridgeError(c, "Failed to list displays", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"displays": displays})
}

// GET /api/v1/switches
func (s *Server) listSwitches(c *gin.Context) {
	switches, err := s.lm.Bridge().Switches(c.Request.Context())
	if err != nil {
		s.writeBridgeError(c, "Failed to read switches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"switches": switches})
}

// PUT /api/v1/switches/:id
func (s *Server) setSwitch(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeDeviceBadRequest, "Invalid request body", err.Error()))
		return
	}

	id := types.DeviceID(c.Param("id"))
	if err := s.lm.Bridge().SetSwitch(c.Request.Context(), id, *req.Closed); err != nil {
		s.writeBridgeError(c, "Failed to set switch", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "closed": *req.Closed})
}

// GET /api/v1/coils/:id
func (s *Server) getCoil(c *gin.Context) {
	id := types.DeviceID(c.Param("id"))
	active, known, err := s.lm.Bridge().Coil(c.Request.Context(), id)
	if err != nil {
		s.writeBridgeError(c, "Failed to read coil", err)
		return
	}
	if !known {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeDeviceNotFound, "Unknown coil", string(id)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": active})
}

// GET /api/v1/lamps/:id
func (s *Server) getLamp(c *gin.Context) {
	id := types.DeviceID(c.Param("id"))
	state, known, err := s.lm.Bridge().Lamp(c.Request.Context(), id)
	if err != nil {
		s.writeBridgeError(c, "Failed to read lamp", err)
		return
	}
	if !known {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeDeviceNotFound, "Unknown lamp", string(id)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "value": state.Value, "source": state.Source})
}

// GET /api/v1/mechs
func (s *Server) listMechs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mechs": s.lm.Bridge().Mechs()})
}
