package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/PinBridge/internal/machines"
	"github.com/KevinKickass/PinBridge/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/machines
func (s *Server) listMachines(c *gin.Context) {
	list, err := s.lm.Machines().List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeMachineInternal, "Failed to list machines", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": list})
}

// GET /api/v1/machines/:id
func (s *Server) getMachine(c *gin.Context) {
	def, err := s.lm.Machines().Lookup(c.Param("id"))
	if err != nil {
		if errors.Is(err, machines.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeMachineNotFound, "Machine not found", c.Param("id")))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeMachineInternal, "Failed to load machine", err.Error()))
		return
	}
	c.JSON(http.StatusOK, def)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// GET /api/v1/sessions
func (s *Server) listSessions(c *gin.Context) {
	history := s.lm.History()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeSessionUnavailable, "Session journal disabled", nil))
		return
	}
	records, err := history.RecentSessions(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSessionInternal, "Failed to read sessions", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}

// GET /api/v1/sessions/failures
func (s *Server) listStartFailures(c *gin.Context) {
	history := s.lm.History()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeSessionUnavailable, "Session journal disabled", nil))
		return
	}
	failures, err := history.RecentFailures(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSessionInternal, "Failed to read start failures", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}
