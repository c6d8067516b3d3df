package models

import (
	"time"
)

// Tenant is the client-account/engagement record a flow belongs to. The
// service only reads tenants; provisioning them is handled elsewhere.
type Tenant struct {
	ClientAccountID string    `json:"client_account_id"`
	EngagementID    string    `json:"engagement_id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key returns the tenant's scoping key.
func (t *Tenant) Key() TenantKey {
	return TenantKey{ClientAccountID: t.ClientAccountID, EngagementID: t.EngagementID}
}
