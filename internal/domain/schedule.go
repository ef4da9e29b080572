package domain

import "github.com/google/uuid"

// ScheduledTrigger describes a trigger event emitted on a cron schedule.
type ScheduledTrigger struct {
	Name string

	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC

	Service      string
	Event        string
	Organization uuid.UUID
	AccessMode   AccessMode
	Context      map[string]string
}
