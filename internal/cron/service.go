package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Service runs the directory maintenance jobs (recache, repost) and keeps
// them in a JSON file so pauses survive restarts.
type Service struct {
	path     string
	OnJob    func(ctx context.Context, job CronJob) (string, error)
	OnResult func(job CronJob, result string, err error)

	mu      sync.Mutex
	jobs    []CronJob
	entries map[string]rcron.EntryID
	cron    *rcron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewService(path string) *Service {
	return &Service{path: path, entries: make(map[string]rcron.EntryID)}
}

// Start loads the job file and schedules every enabled job. Runs that are
// still going when their next tick arrives are skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("cron already started")
	}

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}

	logger := rcron.PrintfLogger(log.Default())
	s.cron = rcron.New(
		rcron.WithParser(parser),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		if job.Enabled {
			s.schedule(job)
		}
	}
	s.cron.Start()
	log.Printf("[cron] started with %d jobs", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits up to five seconds for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.entries = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// schedule registers job with the running scheduler. Callers hold s.mu.
func (s *Service) schedule(job CronJob) {
	if s.cron == nil {
		return
	}
	id := job.ID
	entry, err := s.cron.AddFunc(job.Schedule, func() { s.run(id) })
	if err != nil {
		log.Printf("[cron] cannot schedule %s (%s): %v", job.Name, job.Schedule, err)
		return
	}
	s.entries[id] = entry
}

// unschedule removes id from the running scheduler. Callers hold s.mu.
func (s *Service) unschedule(id string) {
	if entry, ok := s.entries[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entry)
		}
		delete(s.entries, id)
	}
}

// run executes the current version of job id and records the outcome.
func (s *Service) run(id string) {
	s.mu.Lock()
	i := s.index(id)
	var job CronJob
	if i >= 0 {
		job = s.jobs[i]
	}
	ctx := s.ctx
	s.mu.Unlock()

	if i < 0 || !job.Enabled {
		return
	}
	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("[cron] running %s", job.Name)
	result, err := s.OnJob(ctx, job)
	job.State = s.record(id, result, err)
	if s.OnResult != nil {
		s.OnResult(job, result, err)
	}
}

func (s *Service) record(id, result string, err error) JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := JobState{LastRun: time.Now().UTC(), LastStatus: "ok"}
	if err != nil {
		state.LastStatus = "error"
		state.LastError = err.Error()
		log.Printf("[cron] %s failed: %v", id, err)
	} else {
		log.Printf("[cron] %s: %s", id, truncate(result, 100))
	}
	if i := s.index(id); i >= 0 {
		s.jobs[i].State = state
		if err := s.save(); err != nil {
			log.Printf("[cron] warning: save jobs: %v", err)
		}
	}
	return state
}

// index returns the position of id in s.jobs or -1. Callers hold s.mu.
func (s *Service) index(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

// EnsureJob installs a job under a fixed id, replacing its schedule, name and
// payload while keeping its enabled flag and last run. An empty schedule
// removes the job.
func (s *Service) EnsureJob(id, name, schedule string, payload Payload) (*CronJob, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule != "" {
		if _, err := parser.Parse(schedule); err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i >= 0 {
		s.unschedule(id)
	}
	if schedule == "" {
		if i < 0 {
			return nil, nil
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return nil, s.save()
	}

	job := newJob(id, name, schedule, payload)
	if i >= 0 {
		job.Enabled = s.jobs[i].Enabled
		job.State = s.jobs[i].State
		job.CreatedAt = s.jobs[i].CreatedAt
		s.jobs[i] = job
	} else {
		s.jobs = append(s.jobs, job)
	}
	if job.Enabled {
		s.schedule(job)
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

// EnableJob pauses or resumes the job whose id or name matches ref
// (names compare case-insensitively).
func (s *Service) EnableJob(ref string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(ref)
	if i < 0 {
		for j := range s.jobs {
			if strings.EqualFold(s.jobs[j].Name, ref) {
				i = j
				break
			}
		}
	}
	if i < 0 {
		return nil, fmt.Errorf("job %q not found", ref)
	}

	job := &s.jobs[i]
	if job.Enabled != enabled {
		job.Enabled = enabled
		if enabled {
			s.schedule(*job)
		} else {
			s.unschedule(job.ID)
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
	}
	out := *job
	return &out, nil
}

// ListJobs returns a copy of every job with Next filled in for scheduled ones.
func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CronJob, len(s.jobs))
	copy(out, s.jobs)
	if s.cron == nil {
		return out
	}
	for i := range out {
		if entry, ok := s.entries[out[i].ID]; ok {
			out[i].Next = s.cron.Entry(entry).Next
		}
	}
	return out
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	s.jobs = jobs
	return nil
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
