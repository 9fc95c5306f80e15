package cron

import (
	"time"
)

// Job actions understood by the gateway.
const (
	ActionRecache = "recache"
	ActionRepost  = "repost"
)

// Payload tells the gateway what a job does and, optionally, which console
// chat receives its result.
type Payload struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

type JobState struct {
	LastRun    time.Time `json:"lastRun,omitzero"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// CronJob is a persisted schedule. Schedule is a five or six field cron
// expression or a descriptor such as "@every 1h".
type CronJob struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Schedule  string    `json:"schedule"`
	Payload   Payload   `json:"payload"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`

	// Next is the upcoming run while the scheduler is started.
	Next time.Time `json:"-"`
}

func newJob(id, name, schedule string, payload Payload) CronJob {
	return CronJob{
		ID:        id,
		Name:      name,
		Enabled:   true,
		Schedule:  schedule,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
