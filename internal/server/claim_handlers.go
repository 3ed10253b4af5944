package server

import (
	"context"

	"waster/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CreateClaim handles POST /api/posts/:id/claims
func (s *Server) CreateClaim(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	claim, err := s.claimService.CreateClaim(c.UserContext(), postID, userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"claim_id": claim.ID,
		"status":   claim.Status,
	})
}

type claimTransition func(ctx context.Context, claimID uuid.UUID, callerID string) (*models.Claim, error)

func (s *Server) transitionClaim(c *fiber.Ctx, run claimTransition) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	claimID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	claim, err := run(c.UserContext(), claimID, userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"status": claim.Status})
}

// ApproveClaim handles PUT /api/claims/:id/approve
func (s *Server) ApproveClaim(c *fiber.Ctx) error {
	return s.transitionClaim(c, s.claimService.ApproveClaim)
}

// RejectClaim handles PUT /api/claims/:id/reject
func (s *Server) RejectClaim(c *fiber.Ctx) error {
	return s.transitionClaim(c, s.claimService.RejectClaim)
}

// CompleteClaim handles PUT /api/claims/:id/complete
func (s *Server) CompleteClaim(c *fiber.Ctx) error {
	return s.transitionClaim(c, s.claimService.CompleteClaim)
}

// CancelClaim handles DELETE /api/claims/:id
func (s *Server) CancelClaim(c *fiber.Ctx) error {
	return s.transitionClaim(c, s.claimService.CancelClaim)
}

// GetMyClaims handles GET /api/claims?status=
func (s *Server) GetMyClaims(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}

	var status *models.ClaimStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseClaimStatus(raw)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		status = &parsed
	}

	views, err := s.queryService.MyClaims(c.UserContext(), userID, status, parsePagination(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(views)
}

// GetClaim handles GET /api/claims/:id
func (s *Server) GetClaim(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	claimID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := s.queryService.ClaimDetail(c.UserContext(), claimID, userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

// GetPostClaims handles GET /api/posts/:id/claims
func (s *Server) GetPostClaims(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return nil
	}
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	views, err := s.queryService.PostClaims(c.UserContext(), userID, postID, parsePagination(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(views)
}
