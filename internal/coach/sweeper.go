package coach

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/ChatMaestro/internal/scheduler"
	"github.com/BTreeMap/ChatMaestro/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule evaluates every participant twice an hour.
const DefaultSweepSchedule = "*/30 * * * *"

// SweepResult summarizes one sweep.
type SweepResult struct {
	Participants  int `json:"participants"`
	Evaluated     int `json:"evaluated"`
	Interventions int `json:"interventions"`
	Failed        int `json:"failed"`
}

// Sweeper periodically evaluates the latest snapshot of every participant.
type Sweeper struct {
	registry *Registry
	store    store.Store
	sched    *scheduler.Scheduler
	entry    cron.EntryID
}

// NewSweeper creates a Sweeper. sched may be nil when only Sweep is used.
func NewSweeper(registry *Registry, st store.Store, sched *scheduler.Scheduler) *Sweeper {
	return &Sweeper{registry: registry, store: st, sched: sched}
}

// Start registers the sweep with the scheduler under expr.
func (s *Sweeper) Start(ctx context.Context, expr string) error {
	if s.sched == nil {
		return errors.New("sweeper has no scheduler")
	}
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	id, err := s.sched.AddJob("proactive-sweep", expr, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.entry = id
	slog.Info("Sweeper.Start: proactive sweep scheduled", "schedule", expr, "next", s.sched.Next(id))
	return nil
}

// Stop unregisters the sweep.
func (s *Sweeper) Stop() {
	if s.sched != nil && s.entry != 0 {
		s.sched.Remove(s.entry)
		s.entry = 0
	}
}

// Sweep evaluates every participant with a stored snapshot once. Failures are logged and
// counted; they do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	participants, err := s.store.ListParticipants()
	if err != nil {
		slog.Error("Sweeper.Sweep: failed to list participants", "error", err)
		return res
	}
	res.Participants = len(participants)

	for _, p := range participants {
		if ctx.Err() != nil {
			slog.Info("Sweeper.Sweep: cancelled", "evaluated", res.Evaluated)
			return res
		}
		snap, err := s.store.GetLatestSnapshot(p.ID)
		if err != nil {
			slog.Error("Sweeper.Sweep: failed to load snapshot", "participantID", p.ID, "error", err)
			res.Failed++
			continue
		}
		if snap == nil {
			continue
		}
		session, err := s.registry.Session(p.ID)
		if err != nil {
			slog.Error("Sweeper.Sweep: failed to load session", "participantID", p.ID, "error", err)
			res.Failed++
			continue
		}
		interventions, err := session.EvaluateSnapshot(*snap)
		if err != nil {
			res.Failed++
			continue
		}
		res.Evaluated++
		res.Interventions += len(interventions)
	}
	slog.Info("Sweeper.Sweep: complete", "participants", res.Participants, "evaluated", res.Evaluated, "interventions", res.Interventions, "failed", res.Failed)
	return res
}
