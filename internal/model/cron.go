package model

import (
	"errors"
	"strings"

	"github.com/robfig/cron/v3"
)

var ErrEmptyCron = errors.New("empty cron expression")

// ParseCron checks a cron expression with five fields. Descriptors such as
// @daily or @every 1h are accepted as well.
func ParseCron(expr string) error {
	_, err := CronSchedule(expr)
	return err
}

// CronSchedule parses expr the same way ParseCron does.
func CronSchedule(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, ErrEmptyCron
	}
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}
