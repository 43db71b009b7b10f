package directory

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"yield-router/internal/domain"
)

// ValidateAddress checks that addr is a base58-encoded 32-byte value that
// decodes to a canonical ed25519 point. Executor and adapter addresses are
// account keys; a non-canonical key can never produce a valid provenance
// proof, so it is rejected at registration rather than on the hot path.
func ValidateAddress(addr domain.Address) error {
	raw, err := base58.Decode(string(addr))
	if err != nil {
		return ErrInvalidAddress
	}
	if len(raw) != 32 {
		return ErrInvalidAddress
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return ErrInvalidAddress
	}
	return nil
}
