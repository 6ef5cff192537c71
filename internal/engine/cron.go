package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Расписание workflow — классический cron из пяти полей, без секунд.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func parseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// ValidateCronExpr возвращает ошибку, если expr не разбирается.
func ValidateCronExpr(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

// NextDue — ближайшее срабатывание строго после from, в UTC.
func NextDue(expr string, from time.Time) (time.Time, error) {
	s, err := parseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from.UTC()).UTC(), nil
}
