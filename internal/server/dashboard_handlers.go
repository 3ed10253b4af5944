package server

import (
	"waster/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetDashboard handles GET /api/dashboard
func (s *Server) GetDashboard(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	stats, err := s.statsService.GetDashboard(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(stats)
}

// SetMonthlyGoal handles PUT /api/dashboard/goal
func (s *Server) SetMonthlyGoal(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}

	var req struct {
		MonthlyGoal *int `json:"monthly_goal"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.MonthlyGoal == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("monthly_goal is required"))
	}

	stats, err := s.statsService.SetMonthlyGoal(c.UserContext(), userID, *req.MonthlyGoal)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(stats)
}

// RecomputeDashboard handles POST /api/dashboard/recompute
func (s *Server) RecomputeDashboard(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	stats, err := s.statsService.RecomputeStats(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(stats)
}
