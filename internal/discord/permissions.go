package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may move the captioner between channels.
type PermissionChecker struct {
	controlRoleID string
}

// NewPermissionChecker creates a PermissionChecker for roleID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{controlRoleID: roleID}
}

// CanControl reports whether the interaction author holds the control role.
// An empty role ID allows everyone; interactions outside a guild never pass
// a non-empty role.
func (p *PermissionChecker) CanControl(i *discordgo.InteractionCreate) bool {
	if p.controlRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.controlRoleID)
}
