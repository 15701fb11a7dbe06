package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier determines queue binding and worker pool sizing for a tenant.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// AllTiers lists every tier in pool-setup order.
func AllTiers() []Tier {
	return []Tier{TierFree, TierBasic, TierPremium, TierEnterprise}
}

// ValidTier reports whether t is a known tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierFree, TierBasic, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// PoolSize returns the shared worker pool size for a tier. The same size
// applies to the extraction and transform pools.
func (t Tier) PoolSize() int {
	switch t {
	case TierBasic:
		return 3
	case TierPremium:
		return 5
	case TierEnterprise:
		return 10
	default:
		return 1
	}
}

// Tenant is the tenancy root. Every pipeline table carries its ID as a
// discriminator.
type Tenant struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Tier          Tier      `json:"tier"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}
