package workflow

import (
	"fmt"
	"html"
	"strings"
	"time"

	"nexus-bot/internal/action"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
)

const (
	msgApology            = "⚠️ Sorry, something went wrong. Please try again later."
	msgPlanUnavailable    = "⚠️ This plan is no longer available. Please choose another one."
	msgEvidenceReceived   = "✅ <b>Receipt received!</b>\nPremium will be activated automatically once an admin confirms it."
	msgDuplicateEvidence  = "⚠️ This receipt was already submitted. Please send the receipt for this payment."
	msgApproversUnreached = "⚠️ We could not reach the admins right now. Please send the receipt again in a few minutes."
	msgCancelled          = "Payment cancelled."
	msgNothingToCancel    = "You have no payment in progress."
	msgAlreadyUnderReview = "Your receipt is already being reviewed by an admin."
	msgQuotaExhausted     = "🔒 You have used all free questions for today.\nGet Premium for unlimited AI requests."

	ackNotApprover   = "You are not allowed to do this."
	ackUnknown       = "This request no longer exists."
	ackInternalError = "Internal error. The user was not notified, please try again."
	ackApproved      = "Approved ✅"
	ackRejected      = "Rejected ❌"
)

const helpText = "<b>Commands</b>\n" +
	"/start - main menu\n" +
	"/buy - Premium plans\n" +
	"/status - your subscription\n" +
	"/cancel - cancel a payment in progress\n" +
	"/help - this message\n\n" +
	"Send any text to ask the AI assistant."

const pricingText = "<b>💎 Choose a Premium plan:</b>\n\n" +
	"✨ Unlimited AI requests\n" +
	"✨ All media content\n" +
	"✨ No ads"

func greetingText(fullName string, premium bool) string {
	status := "👤 Regular user"
	if premium {
		status = "💎 PREMIUM"
	}
	return fmt.Sprintf("👋 <b>Hello, %s!</b>\n\n"+
		"🤖 Welcome to <b>Nexus AI</b>.\n"+
		"📊 Your status: <b>%s</b>\n\n"+
		"👇 Use the menu below:", html.EscapeString(fullName), status)
}

func instructionsText(plan subscription.Plan, card, holder string) string {
	var b strings.Builder
	b.WriteString("💳 <b>Payment details:</b>\n\n")
	fmt.Fprintf(&b, "💰 Amount: <b>%s so'm</b>\n", subscription.FormatAmount(plan.Price))
	fmt.Fprintf(&b, "📦 Plan: <b>%s</b>\n\n", html.EscapeString(plan.Name))
	fmt.Fprintf(&b, "💳 Card: <code>%s</code>\n", html.EscapeString(card))
	if holder != "" {
		fmt.Fprintf(&b, "👤 Recipient: <b>%s</b>\n", html.EscapeString(holder))
	}
	b.WriteString("\n❗️ Please make the payment and send the receipt (screenshot) here.")
	return b.String()
}

func statusText(e *subscription.Entitlement, now time.Time) string {
	if e != nil && e.IsPremium {
		if end, ok := subscription.ParseEnd(e.SubscriptionEnd); ok && end.After(now) {
			return fmt.Sprintf("💎 <b>Premium is active</b> until <b>%s</b>.", end.UTC().Format("2006-01-02 15:04 UTC"))
		}
	}
	return "👤 You do not have Premium. Use /buy to get it."
}

func (o *Orchestrator) mainKeyboard(premium bool) notify.Keyboard {
	var buttons []notify.Button
	if o.cfg.WebAppURL != "" {
		buttons = append(buttons, notify.Button{Text: "🌐 Nexus WebApp", URL: o.cfg.WebAppURL})
	}
	if o.cfg.CopilotURL != "" {
		buttons = append(buttons, notify.Button{Text: "🧠 Bing Copilot", URL: o.cfg.CopilotURL})
	}
	if !premium {
		buttons = append(buttons, notify.Button{Text: "💎 Get Premium", Action: action.BuyMenu()})
	}
	if o.cfg.SupportUsername != "" {
		buttons = append(buttons, notify.Button{Text: "🆘 Support", URL: "https://t.me/" + o.cfg.SupportUsername})
	}
	return notify.Column(buttons...)
}

func (o *Orchestrator) pricingKeyboard() notify.Keyboard {
	var buttons []notify.Button
	for _, p := range o.catalog.Plans() {
		buttons = append(buttons, notify.Button{
			Text:   fmt.Sprintf("📅 %s - %s so'm", p.Name, subscription.FormatAmount(p.Price)),
			Action: action.SelectPlan(p.ID),
		})
	}
	buttons = append(buttons, notify.Button{Text: "⬅️ Back", Action: action.MainMenu()})
	return notify.Column(buttons...)
}

func cancelKeyboard() notify.Keyboard {
	return notify.Column(notify.Button{Text: "Cancel", Action: action.Cancel()})
}

func upsellKeyboard() notify.Keyboard {
	return notify.Column(notify.Button{Text: "💎 Get Premium", Action: action.BuyMenu()})
}
