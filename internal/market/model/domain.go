package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DomainRecord is the ownership ledger row for a registered domain.
// owner_wallet is stored lowercase; there is at most one owner per domain.
type DomainRecord struct {
	Domain       string    `json:"domain"`
	OwnerWallet  string    `json:"owner_wallet"`
	PurchaseID   uuid.UUID `json:"purchase_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Nameservers  []string  `json:"nameservers"`
	RegisteredAt time.Time `json:"registered_at"`
}

// NormalizeWallet lowercases an EVM address for storage and comparison.
// Ownership checks treat addresses case-insensitively.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
