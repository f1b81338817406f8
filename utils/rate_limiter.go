package utils

import (
	"context"
	"fmt"
	"time"

	"bulk-mailer/database"
)

// DayWindow returns the [start, end) bounds of the calendar day containing t in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// GetDailyMailCount returns the number of delivery attempts logged today.
func GetDailyMailCount(ctx context.Context, log database.DeliveryLog, loc *time.Location, now time.Time) (int, error) {
	start, end := DayWindow(now, loc)
	counts, err := log.CountByStatus(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to get daily mail count: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// GetEmailStatusDistribution retrieves today's sent/failed counts.
func GetEmailStatusDistribution(ctx context.Context, log database.DeliveryLog, loc *time.Location, now time.Time) (map[string]int, error) {
	start, end := DayWindow(now, loc)
	counts, err := log.CountByStatus(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get email status distribution: %w", err)
	}

	// Ensure both keys exist even if count is 0 for consistent JSON
	statusCounts := map[string]int{
		string(database.StatusSent):   0,
		string(database.StatusFailed): 0,
	}
	for status, n := range counts {
		statusCounts[string(status)] = n
	}
	return statusCounts, nil
}

// GetDailySendsOverPeriod retrieves the attempt count per day for the last 'days' days,
// keyed by YYYY-MM-DD in loc.
func GetDailySendsOverPeriod(ctx context.Context, log database.DeliveryLog, loc *time.Location, now time.Time, days int) (map[string]int, error) {
	dailySends := make(map[string]int, days)

	for i := 0; i < days; i++ {
		start, end := DayWindow(now.In(loc).AddDate(0, 0, -i), loc)
		counts, err := log.CountByStatus(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to get daily sends over period: %w", err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		dailySends[start.Format("2006-01-02")] = total
	}
	return dailySends, nil
}
