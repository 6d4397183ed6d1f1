package api

import (
	"errors"
	"net/http"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// submitCommandHandler handles POST /commands: the single entry point
// for queue/accept/reject/status/list_agents, matching spec §6's
// discriminated command envelope.
func (s *Server) submitCommandHandler(c *gin.Context) {
	var cmd orchestrator.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_COMMAND", Message: err.Error()})
		return
	}

	result, err := s.orch.SubmitCommand(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}

	if result == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

// listAgentsHandler handles GET /agents.
func (s *Server) listAgentsHandler(c *gin.Context) {
	result, err := s.orch.SubmitCommand(c.Request.Context(), orchestrator.Command{Type: orchestrator.CommandListAgents})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getAgentHandler handles GET /agents/:id.
func (s *Server) getAgentHandler(c *gin.Context) {
	result, err := s.orch.SubmitCommand(c.Request.Context(), orchestrator.Command{
		Type:    orchestrator.CommandStatus,
		AgentID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps the runtime's typed errors to HTTP status codes,
// grounded on the teacher's pkg/api/errors.go status-mapping idiom.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, lifecycle.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	}

	var cerr *cairnerrors.Error
	if errors.As(err, &cerr) {
		status := http.StatusInternalServerError
		switch cerr.Kind {
		case cairnerrors.KindAgentState, cairnerrors.KindVersionConflict:
			status = http.StatusConflict
		case cairnerrors.KindPathValidation:
			status = http.StatusBadRequest
		case cairnerrors.KindResourceLimit, cairnerrors.KindSecurity:
			status = http.StatusForbidden
		case cairnerrors.KindRecoverable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, errorResponse{Code: cerr.Code, Message: cerr.Message})
		return
	}

	c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: err.Error()})
}
