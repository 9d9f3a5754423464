package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AgentsResponse is the response body for GET /api/v1/agents.
type AgentsResponse struct {
	Provider string   `json:"provider"`
	Stages   []string `json:"stages"`
}

// handleGetTicket resolves a ticket reference through the configured
// tracker. Refs containing slashes (GitHub's "owner/repo#n") must be
// URL-escaped by the client.
func (s *Server) handleGetTicket(c echo.Context) error {
	ticket, err := s.source.Fetch(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return s.ticketError(c, err)
	}
	return c.JSON(http.StatusOK, ticket)
}

// handleAgents lists the configured capability provider and the registered
// pipeline stages in execution order.
func (s *Server) handleAgents(c echo.Context) error {
	var stages []string
	for _, name := range s.service.Stages() {
		stages = append(stages, string(name))
	}
	return c.JSON(http.StatusOK, AgentsResponse{
		Provider: s.provider,
		Stages:   stages,
	})
}
