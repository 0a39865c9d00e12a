package herald

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/parley/internal/room"
	"github.com/zulandar/parley/internal/session"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// sellerLabel prefers the display name, falling back to the seller id.
func sellerLabel(id, name string) string {
	if name != "" {
		return name
	}
	return id
}

// FormatDeal formats an accepted deal for announcement.
func FormatDeal(roomID string, d room.Decision, rounds int) FormattedEvent {
	seller := sellerLabel(d.SellerID, d.SellerName)
	title := fmt.Sprintf("Deal closed in %s", roomID)

	var bodyParts []string
	bodyParts = append(bodyParts, fmt.Sprintf("%s at %s x %d (%s total)",
		seller, formatMoney(d.FinalPrice), d.Quantity, formatMoney(d.TotalCost)))
	if d.Reason != "" {
		bodyParts = append(bodyParts, d.Reason)
	}
	if d.RecommendedCard != "" {
		line := fmt.Sprintf("Pay with %s", d.RecommendedCard)
		if d.CardSavings != nil && *d.CardSavings > 0 {
			line += fmt.Sprintf(" to save %s", formatMoney(*d.CardSavings))
		}
		bodyParts = append(bodyParts, line)
	}

	fields := []Field{
		{Name: "Room", Value: roomID, Short: true},
		{Name: "Seller", Value: seller, Short: true},
		{Name: "Price", Value: formatMoney(d.FinalPrice), Short: true},
		{Name: "Total", Value: formatMoney(d.TotalCost), Short: true},
	}
	if rounds > 0 {
		fields = append(fields, Field{Name: "Rounds", Value: fmt.Sprintf("%d", rounds), Short: true})
	}
	if d.EffectiveTotal != nil {
		fields = append(fields, Field{Name: "Effective", Value: formatMoney(*d.EffectiveTotal), Short: true})
	}

	return FormattedEvent{
		Title:    title,
		Body:     strings.Join(bodyParts, "\n"),
		Severity: "success",
		Color:    ColorSuccess,
		Fields:   fields,
	}
}

// FormatNoDeal formats a negotiation that ended without a deal.
func FormatNoDeal(roomID, reason string, rounds int) FormattedEvent {
	fields := []Field{
		{Name: "Room", Value: roomID, Short: true},
	}
	if rounds > 0 {
		fields = append(fields, Field{Name: "Rounds", Value: fmt.Sprintf("%d", rounds), Short: true})
	}

	return FormattedEvent{
		Title:    fmt.Sprintf("No deal in %s", roomID),
		Body:     reason,
		Severity: "warning",
		Color:    ColorWarning,
		Fields:   fields,
	}
}

// FormatStreamFailure formats a room whose event feed was lost for good
// (retry budget exhausted). The room's state stays readable; the alert is
// about lost live coverage, not a lost negotiation.
func FormatStreamFailure(roomID string, err error) FormattedEvent {
	body := "Event feed lost after exhausting reconnect attempts. The room's last known state is still available."
	if err != nil {
		body += "\nLast error: " + err.Error()
	}
	return FormattedEvent{
		Title:    fmt.Sprintf("Feed lost for %s", roomID),
		Body:     body,
		Severity: "error",
		Color:    ColorError,
		Fields: []Field{
			{Name: "Room", Value: roomID, Short: true},
		},
	}
}

// FormatSessionSummary formats a completed session: deal count across rooms,
// the cheapest accepted deal, and total spend.
func FormatSessionSummary(snap session.Snapshot) FormattedEvent {
	var deals int
	var spend float64
	var best *session.Deal
	for _, p := range snap.Rooms {
		if p.Deal == nil {
			continue
		}
		deals++
		spend += p.Deal.TotalCost
		if best == nil || p.Deal.TotalCost < best.TotalCost {
			best = p.Deal
		}
	}

	var bodyLines []string
	if snap.ItemName != "" {
		bodyLines = append(bodyLines, fmt.Sprintf("**Item**: %s x %d", snap.ItemName, snap.Quantity))
	}
	bodyLines = append(bodyLines, fmt.Sprintf("**Rooms**: %d of %d closed a deal", deals, len(snap.Rooms)))
	if best != nil {
		bodyLines = append(bodyLines, fmt.Sprintf("**Best deal**: %s at %s",
			sellerLabel(best.SellerID, best.SellerName), formatMoney(best.TotalCost)))
	}
	if spend > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Total spend**: %s", formatMoney(spend)))
	}
	if !snap.StartedAt.IsZero() && !snap.CompletedAt.IsZero() {
		bodyLines = append(bodyLines, fmt.Sprintf("**Duration**: %s", formatDuration(snap.CompletedAt.Sub(snap.StartedAt))))
	}

	severity := "success"
	if deals == 0 {
		severity = "warning"
	}

	fields := []Field{
		{Name: "Session", Value: snap.SessionID, Short: true},
		{Name: "Deals", Value: fmt.Sprintf("%d/%d", deals, len(snap.Rooms)), Short: true},
	}
	if spend > 0 {
		fields = append(fields, Field{Name: "Spend", Value: formatMoney(spend), Short: true})
	}
	if snap.MaxBudget > 0 {
		fields = append(fields, Field{Name: "Budget", Value: formatMoney(snap.MaxBudget), Short: true})
	}

	return FormattedEvent{
		Title:    fmt.Sprintf("Session %s complete", snap.SessionID),
		Body:     strings.Join(bodyLines, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}

// formatMoney formats a dollar amount.
func formatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
