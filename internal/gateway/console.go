package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/circlebot/internal/bus"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"github.com/stellarlinkco/circlebot/internal/cron"
)

// ConsoleCommands is the operator command menu.
var ConsoleCommands = map[string]string{
	"recache": "Reload circles from the store",
	"circles": "List cached circles (optional name filter)",
	"repost":  "Rebuild the circle list in the join channel",
	"jobs":    "Show scheduled jobs",
	"pause":   "Pause a scheduled job by name or id",
	"resume":  "Resume a paused job",
	"help":    "Show this help",
}

// Directory is the part of the directory service the console drives.
type Directory interface {
	Recache(ctx context.Context) (int, error)
	List() []circle.Circle
}

// Reposter rebuilds the circle list in the join channel.
type Reposter interface {
	Repost(ctx context.Context) (int, error)
}

// Jobs lists and pauses scheduled jobs.
type Jobs interface {
	ListJobs() []cron.CronJob
	EnableJob(ref string, enabled bool) (*cron.CronJob, error)
}

// Console answers operator commands arriving on the bus.
type Console struct {
	directory Directory
	reposter  Reposter
	jobs      Jobs
}

func NewConsole(dir Directory, reposter Reposter, jobs Jobs) *Console {
	return &Console{directory: dir, reposter: reposter, jobs: jobs}
}

// Handle runs one command and returns the reply text.
func (c *Console) Handle(ctx context.Context, msg bus.InboundMessage) string {
	name, args := msg.Command()
	switch name {
	case "recache":
		n, err := c.directory.Recache(ctx)
		if err != nil {
			return "Recache failed: " + err.Error()
		}
		return fmt.Sprintf("Recached %d circles", n)

	case "circles":
		return c.listCircles(args)

	case "repost":
		if c.reposter == nil {
			return "Repost is not available"
		}
		n, err := c.reposter.Repost(ctx)
		if err != nil {
			return "Repost failed: " + err.Error()
		}
		return fmt.Sprintf("Posted %d circles", n)

	case "jobs":
		return c.listJobs()

	case "pause", "resume":
		return c.toggleJob(args, name == "resume")

	case "help", "start":
		return helpText()

	case "":
		return "Send /help for the list of commands."

	default:
		return fmt.Sprintf("Unknown command /%s. Send /help for the list of commands.", name)
	}
}

func (c *Console) listCircles(filter string) string {
	filter = strings.ToLower(strings.TrimSpace(filter))
	var sb strings.Builder
	n := 0
	for _, ci := range c.directory.List() {
		if filter != "" && !strings.Contains(strings.ToLower(ci.Name), filter) {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%s **%s** `%s` owner %s\n", ci.Emoji, ci.Name, ci.ID, ci.Owner)
	}
	if n == 0 {
		return "No circles cached."
	}
	return fmt.Sprintf("%d circles\n%s", n, sb.String())
}

func (c *Console) listJobs() string {
	if c.jobs == nil {
		return "No scheduler running."
	}
	jobs := c.jobs.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var sb strings.Builder
	for _, j := range jobs {
		status := j.State.LastStatus
		if status == "" {
			status = "never run"
		}
		fmt.Fprintf(&sb, "%s `%s` %s (%s)", j.Name, j.Schedule, j.Payload.Action, status)
		if j.State.LastError != "" {
			fmt.Fprintf(&sb, ": %s", j.State.LastError)
		}
		switch {
		case !j.Enabled:
			sb.WriteString(" paused")
		case !j.Next.IsZero():
			fmt.Fprintf(&sb, " next %s", j.Next.UTC().Format(time.RFC3339))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *Console) toggleJob(ref string, enabled bool) string {
	if c.jobs == nil {
		return "No scheduler running."
	}
	if ref == "" {
		return "Name the job, for example /pause circles repost"
	}
	job, err := c.jobs.EnableJob(ref, enabled)
	if err != nil {
		return err.Error()
	}
	if enabled {
		return fmt.Sprintf("Resumed %s", job.Name)
	}
	return fmt.Sprintf("Paused %s", job.Name)
}

func helpText() string {
	names := []string{"recache", "circles", "repost", "jobs", "pause", "resume", "help"}
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, n := range names {
		fmt.Fprintf(&sb, "/%s - %s\n", n, ConsoleCommands[n])
	}
	return sb.String()
}
