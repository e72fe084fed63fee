package core

import "github.com/dkeye/CamRelay/internal/domain"

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	ID            domain.SessionID `json:"id"`
	Roles         []domain.Role    `json:"roles"`
	ViewerCount   int              `json:"viewer_count"`
	PendingOffers []domain.Role    `json:"pending_offers"`
}
