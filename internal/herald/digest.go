package herald

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/parley/internal/models"
	"gorm.io/gorm"
)

// DailyReport holds archive metrics for a 24-hour period.
type DailyReport struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Rooms           int // rooms that reached a terminal state in the period
	Deals           int
	NoDeals         int
	TotalSpend      float64
	AvgRounds       float64
	CardSavings     float64
	SellerBreakdown []SellerDigest
}

// WeeklyReport holds archive metrics for a 7-day period.
type WeeklyReport struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Sessions        int // sessions completed in the period
	Rooms           int
	Deals           int
	NoDeals         int
	DealRate        float64 // percent of rooms ending in a deal
	TotalSpend      float64
	AvgRounds       float64
	SellerBreakdown []SellerDigest
}

// SellerDigest holds per-seller metrics for digest reports.
type SellerDigest struct {
	SellerID   string
	SellerName string
	Deals      int
	Spend      float64
	AvgRounds  float64
}

// BuildDailyDigest queries the archive for the 24 hours before now and
// returns the formatted digest. Returns nil when no rooms completed.
func BuildDailyDigest(gdb *gorm.DB, now time.Time) (*FormattedEvent, error) {
	since := now.Add(-24 * time.Hour)

	report, err := buildDailyReport(gdb, since, now)
	if err != nil {
		return nil, fmt.Errorf("herald: daily digest: %w", err)
	}
	if report.Rooms == 0 {
		return nil, nil
	}

	formatted := FormatDaily(report)
	return &formatted, nil
}

// BuildWeeklyDigest queries the archive for the 7 days before now and
// returns the formatted digest. Returns nil when no rooms completed.
func BuildWeeklyDigest(gdb *gorm.DB, now time.Time) (*FormattedEvent, error) {
	since := now.Add(-7 * 24 * time.Hour)

	report, err := buildWeeklyReport(gdb, since, now)
	if err != nil {
		return nil, fmt.Errorf("herald: weekly digest: %w", err)
	}
	if report.Rooms == 0 {
		return nil, nil
	}

	formatted := FormatWeekly(report)
	return &formatted, nil
}

// buildDailyReport queries the archive for metrics within the given range.
func buildDailyReport(gdb *gorm.DB, since, until time.Time) (*DailyReport, error) {
	report := &DailyReport{
		PeriodStart: since,
		PeriodEnd:   until,
	}

	var rooms int64
	if err := gdb.Model(&models.RoomOutcome{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Count(&rooms).Error; err != nil {
		return nil, err
	}
	report.Rooms = int(rooms)
	if report.Rooms == 0 {
		return report, nil
	}

	var deals int64
	gdb.Model(&models.RoomOutcome{}).
		Where("success = ? AND created_at >= ? AND created_at < ?", true, since, until).
		Count(&deals)
	report.Deals = int(deals)
	report.NoDeals = report.Rooms - report.Deals

	// Spend sums deal rooms only; rounds average over every terminal room.
	row := gdb.Model(&models.RoomOutcome{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Select("COALESCE(SUM(CASE WHEN success THEN total_cost ELSE 0 END), 0), COALESCE(AVG(rounds), 0), COALESCE(SUM(card_savings), 0)").
		Row()
	row.Scan(&report.TotalSpend, &report.AvgRounds, &report.CardSavings)

	report.SellerBreakdown = buildSellerBreakdown(gdb, since, until)
	return report, nil
}

// buildWeeklyReport queries the archive for metrics within the given range.
func buildWeeklyReport(gdb *gorm.DB, since, until time.Time) (*WeeklyReport, error) {
	report := &WeeklyReport{
		PeriodStart: since,
		PeriodEnd:   until,
	}

	var rooms int64
	if err := gdb.Model(&models.RoomOutcome{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Count(&rooms).Error; err != nil {
		return nil, err
	}
	report.Rooms = int(rooms)
	if report.Rooms == 0 {
		return report, nil
	}

	var deals int64
	gdb.Model(&models.RoomOutcome{}).
		Where("success = ? AND created_at >= ? AND created_at < ?", true, since, until).
		Count(&deals)
	report.Deals = int(deals)
	report.NoDeals = report.Rooms - report.Deals
	report.DealRate = float64(report.Deals) / float64(report.Rooms) * 100

	var sessions int64
	gdb.Model(&models.Negotiation{}).
		Where("status = ? AND completed_at >= ? AND completed_at < ?", "completed", since, until).
		Count(&sessions)
	report.Sessions = int(sessions)

	row := gdb.Model(&models.RoomOutcome{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Select("COALESCE(SUM(CASE WHEN success THEN total_cost ELSE 0 END), 0), COALESCE(AVG(rounds), 0)").
		Row()
	row.Scan(&report.TotalSpend, &report.AvgRounds)

	report.SellerBreakdown = buildSellerBreakdown(gdb, since, until)
	return report, nil
}

// buildSellerBreakdown computes per-seller deal metrics. Averages are
// computed in Go for portability across SQLite (tests) and MySQL (production).
func buildSellerBreakdown(gdb *gorm.DB, since, until time.Time) []SellerDigest {
	var sellers []struct {
		SellerID   string
		SellerName string
	}
	gdb.Model(&models.RoomOutcome{}).
		Distinct("seller_id, seller_name").
		Where("success = ? AND seller_id != '' AND created_at >= ? AND created_at < ?", true, since, until).
		Find(&sellers)

	var breakdown []SellerDigest
	for _, s := range sellers {
		sd := SellerDigest{SellerID: s.SellerID, SellerName: s.SellerName}

		var rows []struct {
			TotalCost float64
			Rounds    int
		}
		gdb.Model(&models.RoomOutcome{}).
			Where("success = ? AND seller_id = ? AND created_at >= ? AND created_at < ?",
				true, s.SellerID, since, until).
			Select("total_cost, rounds").
			Find(&rows)

		var totalRounds int
		for _, row := range rows {
			sd.Deals++
			sd.Spend += row.TotalCost
			totalRounds += row.Rounds
		}
		if sd.Deals > 0 {
			sd.AvgRounds = float64(totalRounds) / float64(sd.Deals)
		}
		breakdown = append(breakdown, sd)
	}

	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Spend != breakdown[j].Spend {
			return breakdown[i].Spend > breakdown[j].Spend
		}
		return breakdown[i].SellerID < breakdown[j].SellerID
	})
	return breakdown
}

// FormatDaily formats a daily digest report as a FormattedEvent.
func FormatDaily(report *DailyReport) FormattedEvent {
	var bodyLines []string
	bodyLines = append(bodyLines, fmt.Sprintf("**Period**: %s - %s",
		report.PeriodStart.Format("Jan 2 15:04"),
		report.PeriodEnd.Format("Jan 2 15:04")))
	bodyLines = append(bodyLines, fmt.Sprintf("**Rooms**: %d completed", report.Rooms))
	bodyLines = append(bodyLines, fmt.Sprintf("**Deals**: %d closed, %d walked away",
		report.Deals, report.NoDeals))
	if report.TotalSpend > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Spend**: %s", formatMoney(report.TotalSpend)))
	}
	if report.CardSavings > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Card savings**: %s", formatMoney(report.CardSavings)))
	}
	if report.AvgRounds > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Avg rounds**: %.1f", report.AvgRounds))
	}
	bodyLines = appendSellerLines(bodyLines, report.SellerBreakdown)

	fields := []Field{
		{Name: "Rooms", Value: fmt.Sprintf("%d", report.Rooms), Short: true},
		{Name: "Deals", Value: fmt.Sprintf("%d", report.Deals), Short: true},
		{Name: "No deals", Value: fmt.Sprintf("%d", report.NoDeals), Short: true},
	}
	if report.TotalSpend > 0 {
		fields = append(fields, Field{Name: "Spend", Value: formatMoney(report.TotalSpend), Short: true})
	}
	if report.CardSavings > 0 {
		fields = append(fields, Field{Name: "Savings", Value: formatMoney(report.CardSavings), Short: true})
	}

	return FormattedEvent{
		Title:    "Daily Digest",
		Body:     strings.Join(bodyLines, "\n"),
		Severity: "info",
		Color:    ColorInfo,
		Fields:   fields,
	}
}

// FormatWeekly formats a weekly digest report as a FormattedEvent.
func FormatWeekly(report *WeeklyReport) FormattedEvent {
	var bodyLines []string
	bodyLines = append(bodyLines, fmt.Sprintf("**Period**: %s - %s",
		report.PeriodStart.Format("Jan 2"),
		report.PeriodEnd.Format("Jan 2")))
	if report.Sessions > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Sessions**: %d completed", report.Sessions))
	}
	bodyLines = append(bodyLines, fmt.Sprintf("**Rooms**: %d completed (%d deals)",
		report.Rooms, report.Deals))
	if report.Rooms > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Deal rate**: %.0f%% (%d/%d)",
			report.DealRate, report.Deals, report.Rooms))
	}
	if report.TotalSpend > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Spend**: %s", formatMoney(report.TotalSpend)))
	}
	if report.AvgRounds > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Avg rounds**: %.1f", report.AvgRounds))
	}
	bodyLines = appendSellerLines(bodyLines, report.SellerBreakdown)

	fields := []Field{
		{Name: "Rooms", Value: fmt.Sprintf("%d", report.Rooms), Short: true},
		{Name: "Deals", Value: fmt.Sprintf("%d", report.Deals), Short: true},
	}
	if report.Rooms > 0 {
		fields = append(fields, Field{Name: "Deal rate", Value: fmt.Sprintf("%.0f%%", report.DealRate), Short: true})
	}
	if report.Sessions > 0 {
		fields = append(fields, Field{Name: "Sessions", Value: fmt.Sprintf("%d", report.Sessions), Short: true})
	}
	if report.TotalSpend > 0 {
		fields = append(fields, Field{Name: "Spend", Value: formatMoney(report.TotalSpend), Short: true})
	}

	return FormattedEvent{
		Title:    "Weekly Digest",
		Body:     strings.Join(bodyLines, "\n"),
		Severity: "info",
		Color:    ColorInfo,
		Fields:   fields,
	}
}

// appendSellerLines adds the per-seller breakdown section to a digest body.
func appendSellerLines(bodyLines []string, breakdown []SellerDigest) []string {
	if len(breakdown) == 0 {
		return bodyLines
	}
	bodyLines = append(bodyLines, "")
	bodyLines = append(bodyLines, "**Per seller**:")
	for _, sd := range breakdown {
		line := fmt.Sprintf("  %s: %d deals, %s",
			sellerLabel(sd.SellerID, sd.SellerName), sd.Deals, formatMoney(sd.Spend))
		if sd.AvgRounds > 0 {
			line += fmt.Sprintf(" (avg %.1f rounds)", sd.AvgRounds)
		}
		bodyLines = append(bodyLines, line)
	}
	return bodyLines
}
