package approval

import (
	"fmt"
	"html"
	"time"

	"nexus-bot/internal/subscription"
)

func approverCaption(r *Request) string {
	username := "-"
	if r.Username != "" {
		username = "@" + html.EscapeString(r.Username)
	}
	return fmt.Sprintf(
		"💰 <b>New payment!</b>\n\n"+
			"👤 User: %s (%s)\n"+
			"🆔 ID: <code>%d</code>\n"+
			"📦 Plan: %s\n"+
			"💵 Amount: %s so'm",
		html.EscapeString(r.FullName), username, r.UserID,
		html.EscapeString(r.DisplayName), subscription.FormatAmount(r.Amount))
}

func activatedText(end time.Time) string {
	return fmt.Sprintf("🎉 <b>Congratulations!</b>\nYour payment was confirmed and Premium is active until <b>%s</b> ✅",
		end.UTC().Format("2006-01-02 15:04 UTC"))
}

const rejectedText = "❌ <b>Payment rejected.</b>\nPlease check the payment and try again, or contact an admin."

// Annotation is the line appended to every approver copy once decided.
func Annotation(status Status, approverName string) string {
	switch status {
	case StatusApproved:
		return fmt.Sprintf("\n\n✅ <b>APPROVED (Admin: %s)</b>", html.EscapeString(approverName))
	case StatusRejected:
		return fmt.Sprintf("\n\n❌ <b>REJECTED (Admin: %s)</b>", html.EscapeString(approverName))
	case StatusExpired:
		return "\n\n⌛ <b>EXPIRED</b>"
	}
	return ""
}
