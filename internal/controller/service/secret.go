package service

import (
	"crypto/subtle"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
)

// ValidSecret compares a caller-provided secret with the deployment secret.
func ValidSecret(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func (s *ControllerServiceImpl) checkSecret(provided string) error {
	if !ValidSecret(provided, s.state.Secret()) {
		return port.ErrBadSecret
	}
	return nil
}
