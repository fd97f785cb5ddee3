// Package admin implements the approver-only /admin_* commands.
package admin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"nexus-bot/internal/approval"
	"nexus-bot/internal/logger"
	"nexus-bot/internal/subscription"
)

type Stats interface {
	CountUsers(ctx context.Context) (int64, error)
	CountPremium(ctx context.Context) (int64, error)
}

// Reply is what a command answers with. File, when set, is a local path to
// send as a document and delete afterwards.
type Reply struct {
	Text string
	File string
}

type Console struct {
	entitlements subscription.EntitlementStore
	stats        Stats
	approvals    approval.Repository
	backup       *Backup
	now          func() time.Time
}

// NewConsole wires the command handlers. backup may be nil when no database
// is configured.
func NewConsole(entitlements subscription.EntitlementStore, stats Stats, approvals approval.Repository, backup *Backup) *Console {
	return &Console{
		entitlements: entitlements,
		stats:        stats,
		approvals:    approvals,
		backup:       backup,
		now:          time.Now,
	}
}

// Handle runs command (without the leading slash) for approverID. The caller
// has already checked that the sender is an approver.
func (c *Console) Handle(ctx context.Context, approverID int64, command, args string) Reply {
	var r Reply
	switch command {
	case "admin_stats":
		r = c.handleStats(ctx)
	case "admin_pending":
		r = c.handlePending(ctx)
	case "admin_user":
		r = c.handleUser(ctx, args)
	case "admin_backup":
		r = c.handleBackup(ctx)
	default:
		r = Reply{Text: adminHelp}
	}
	logger.LogAdminAction(approverID, command, args)
	return r
}

const adminHelp = "<b>Admin commands</b>\n" +
	"/admin_stats - users and approvals\n" +
	"/admin_pending - payments waiting for a decision\n" +
	"/admin_user &lt;id&gt; - a user's subscription\n" +
	"/admin_backup - database dump"

func (c *Console) handleStats(ctx context.Context) Reply {
	users, err := c.stats.CountUsers(ctx)
	if err != nil {
		logger.Error("admin stats: count users", err)
		return Reply{Text: "Failed to load stats."}
	}
	premium, err := c.stats.CountPremium(ctx)
	if err != nil {
		logger.Error("admin stats: count premium", err)
		return Reply{Text: "Failed to load stats."}
	}
	byStatus, err := c.approvals.CountByStatus(ctx)
	if err != nil {
		logger.Error("admin stats: count approvals", err)
		return Reply{Text: "Failed to load stats."}
	}
	return Reply{Text: fmt.Sprintf(
		"👥 Users: %d\n💎 Premium: %d\n\n"+
			"🧾 Payments\npending: %d\napproved: %d\nrejected: %d\nexpired: %d",
		users, premium,
		byStatus[approval.StatusPending], byStatus[approval.StatusApproved],
		byStatus[approval.StatusRejected], byStatus[approval.StatusExpired])}
}

func (c *Console) handlePending(ctx context.Context) Reply {
	pending, err := c.approvals.ListPending(ctx, 20)
	if err != nil {
		logger.Error("admin pending: list", err)
		return Reply{Text: "Failed to load pending payments."}
	}
	if len(pending) == 0 {
		return Reply{Text: "No pending payments."}
	}
	var sb strings.Builder
	sb.WriteString("<b>Pending payments</b>\n")
	for _, r := range pending {
		fmt.Fprintf(&sb, "• <code>%d</code> %s, %s, %s so'm, %s ago\n",
			r.UserID, html.EscapeString(r.FullName), html.EscapeString(r.DisplayName),
			subscription.FormatAmount(r.Amount), c.now().Sub(r.CreatedAt).Round(time.Minute))
	}
	return Reply{Text: sb.String()}
}

func (c *Console) handleUser(ctx context.Context, args string) Reply {
	fields := strings.Fields(args)
	if len(fields) < 1 {
		return Reply{Text: "Usage: /admin_user &lt;telegram id&gt;"}
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Reply{Text: "Telegram id must be a number."}
	}
	e, err := c.entitlements.Get(ctx, id)
	if err != nil {
		logger.Error("admin user: load", err)
		return Reply{Text: "Failed to load the user."}
	}
	if e == nil {
		return Reply{Text: "User not found."}
	}
	end := "-"
	if e.SubscriptionEnd != "" {
		end = e.SubscriptionEnd
	}
	username := "-"
	if e.Username != "" {
		username = "@" + html.EscapeString(e.Username)
	}
	active := subscription.Active(e.SubscriptionEnd, c.now())
	return Reply{Text: fmt.Sprintf(
		"🆔 <code>%d</code>\n👤 %s (%s)\n💎 premium flag: %t, active: %t\n📅 until: %s\n📦 type: %d",
		e.UserID, html.EscapeString(e.FullName), username,
		e.IsPremium, active, html.EscapeString(end), e.SubscriptionType)}
}

func (c *Console) handleBackup(ctx context.Context) Reply {
	if c.backup == nil {
		return Reply{Text: "Backups need a database."}
	}
	filename, err := c.backup.Create(ctx, "backup")
	if err != nil {
		if errors.Is(err, ErrNoDatabase) {
			return Reply{Text: "Backups need a database."}
		}
		logger.Error("admin backup failed", err)
		return Reply{Text: "Backup failed: " + html.EscapeString(err.Error())}
	}
	return Reply{Text: "Database backup created", File: filename}
}
