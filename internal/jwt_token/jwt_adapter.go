package jwttoken

import (
	"examen/internal/platform/middleware"
)

// ServiceAdapter narrows Service onto the middleware's validator port.
type ServiceAdapter struct {
	service *Service
}

// NewServiceAdapter wraps the service for middleware use.
func NewServiceAdapter(service *Service) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

// ValidateToken implements middleware.JWTValidator.
func (a *ServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		ActorID: claims.ActorID,
		Role:    claims.Role,
	}, nil
}
