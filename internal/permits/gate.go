// Package permits decides whether a caller may invoke a back-office
// operation.
package permits

import (
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
)

// Gate evaluates back-office authorization: guild admins, holders of the
// configured back-office role, and the always-allowed user ids pass.
type Gate struct {
	backOfficeRoleID string
	allowedUsers     map[string]struct{}
}

// NewGate builds a Gate from configuration.
func NewGate(cfg config.PermissionsConfig) *Gate {
	allowed := make(map[string]struct{}, len(cfg.SetupUserIDs))
	for _, id := range cfg.SetupUserIDs {
		allowed[id] = struct{}{}
	}
	return &Gate{
		backOfficeRoleID: cfg.BackOfficeRoleID,
		allowedUsers:     allowed,
	}
}

// Allow reports whether the member may invoke an elevated operation.
func (g *Gate) Allow(m chat.Member) bool {
	if m.IsAdmin {
		return true
	}
	if _, ok := g.allowedUsers[m.UserID]; ok {
		return true
	}
	if g.backOfficeRoleID == "" {
		return false
	}
	for _, role := range m.RoleIDs {
		if role == g.backOfficeRoleID {
			return true
		}
	}
	return false
}
