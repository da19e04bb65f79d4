package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserStaff = "X-User-Staff"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(c *fiber.Ctx) (domain.Identity, error)
}

// HeaderAuthenticator trusts identity headers set by the gateway in front of
// the API.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(c *fiber.Ctx) (domain.Identity, error) {
	userID := strings.TrimSpace(c.Get(HeaderUserID))
	if userID == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	isStaff, err := strconv.ParseBool(strings.TrimSpace(c.Get(HeaderUserStaff, "false")))
	if err != nil {
		isStaff = false
	}

	return domain.Identity{UserID: userID, IsStaff: isStaff}, nil
}
