package main

import (
	"fmt"
	"time"

	"github.com/cartwheel-labs/edge-gateway/internal/authn"
)

// signToken signs a development credential with the given secret. The
// subject doubles as the email local part to keep test tokens readable.
func signToken(secret, subject, role, lifetime string) (string, error) {
	d, err := time.ParseDuration(lifetime)
	if err != nil {
		return "", fmt.Errorf("invalid lifetime %q: %w", lifetime, err)
	}
	return authn.Sign(secret, subject, subject+"@example.com", role, d)
}
