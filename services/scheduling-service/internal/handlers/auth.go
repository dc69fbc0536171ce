package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/careloop/caresched/libs/auth"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
)

var errUnauthenticated = errors.New("missing or invalid access token")

// caller authenticates the request and returns the explicit identity the
// engine operates on. Auth state never travels through context into the
// scheduling logic.
func (h *AppointmentHandler) caller(r *http.Request) (model.Caller, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return model.Caller{}, errUnauthenticated
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimPrefix(header, "Bearer "), h.jwtSecret)
	if err != nil {
		return model.Caller{}, errUnauthenticated
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok || claims.Sub == "" {
		return model.Caller{}, errUnauthenticated
	}
	return model.Caller{
		ID:            claims.Sub,
		Role:          role,
		EmailVerified: claims.EmailVerified,
	}, nil
}
