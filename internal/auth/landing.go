package auth

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

// Landing destinations per role. Paths mirror the frontend router.
const (
	LandingHome            = "/"
	LandingCitizen         = "/dashboard"
	LandingLawyer          = "/lawyer/legal-dashboard"
	LandingPolice          = "/police-dashboard"
	LandingAdmin           = "/admin"
	LandingPendingApproval = "/pending-approval"
)

// Landing resolves the post-login destination for a principal. Unverified
// lawyers and police land on a holding page until an admin decides.
// Unknown roles fall back to the citizen dashboard rather than locking the
// user out of everything.
func Landing(authenticated bool, role models.Role, vs models.VerificationStatus) string {
	if !authenticated {
		return LandingHome
	}
	switch role {
	case models.RoleLawyer:
		if vs != models.VerificationVerified {
			return LandingPendingApproval
		}
		return LandingLawyer
	case models.RolePolice:
		if vs != models.VerificationVerified {
			return LandingPendingApproval
		}
		return LandingPolice
	case models.RoleAdmin:
		return LandingAdmin
	default:
		return LandingCitizen
	}
}

// @Summary      Landing destination
// @Description  Where the client should route the current visitor; works with or without a session
// @Tags         auth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /auth/landing [get]
func (h *Handler) LandingRoute(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return c.JSON(fiber.Map{"landing": Landing(false, "", "")})
	}

	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		return c.JSON(fiber.Map{"landing": Landing(false, "", "")})
	}
	claims := token.Claims.(*Claims)

	// A profile lookup failure routes to the least-privileged dashboard;
	// the role middleware stays the enforcement point.
	var p models.Profile
	if err := h.db.Select("role", "verification_status").
		First(&p, "id = ?", claims.Sub).Error; err != nil {
		return c.JSON(fiber.Map{"landing": LandingCitizen})
	}

	return c.JSON(fiber.Map{"landing": Landing(true, p.Role, p.VerificationStatus)})
}
