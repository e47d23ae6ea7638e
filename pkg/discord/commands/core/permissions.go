package core

import (
	"context"
	"slices"
	"strings"

	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// PermissionChecker decides who may run privileged commands: the configured
// bot owner, and members holding one of the configured admin roles.
type PermissionChecker struct {
	directory platform.Directory
	config    func() files.BotConfig
}

func NewPermissionChecker(dir platform.Directory, config func() files.BotConfig) *PermissionChecker {
	return &PermissionChecker{directory: dir, config: config}
}

// IsOwner reports whether userID is the configured bot owner.
func (pc *PermissionChecker) IsOwner(userID string) bool {
	owner := strings.TrimSpace(pc.config().OwnerID)
	return owner != "" && owner == userID
}

// IsAdmin reports whether the member holds an admin role. Lookup failures
// deny.
func (pc *PermissionChecker) IsAdmin(ctx context.Context, guildID, userID string) bool {
	if guildID == "" || userID == "" {
		return false
	}
	names, err := pc.directory.MemberRoleNames(ctx, guildID, userID)
	if err != nil {
		log.DiscordLogger().Warn("Role lookup failed during permission check", "guildID", guildID, "userID", userID, "err", err)
		return false
	}
	cfg := pc.config()
	return slices.ContainsFunc(names, cfg.IsAdminRole)
}

// HasPermission is IsOwner or IsAdmin.
func (pc *PermissionChecker) HasPermission(ctx context.Context, guildID, userID string) bool {
	return pc.IsOwner(userID) || pc.IsAdmin(ctx, guildID, userID)
}
