package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cocred/internal/logger"
)

// DefaultCheckInterval is the periodic re-validation interval.
const DefaultCheckInterval = 5 * time.Minute

// Validator is the ensure-valid path run by a Keeper.
type Validator interface {
	EnsureValid(ctx context.Context) (*Session, error)
}

// Keeper re-validates a session on a fixed schedule and when the client becomes visible.
type Keeper struct {
	v        Validator
	interval time.Duration
	cron     *cron.Cron
	onCheck  func(trigger string, s *Session)
	log      zerolog.Logger
}

func NewKeeper(v Validator, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Keeper{
		v:        v,
		interval: interval,
		cron:     cron.New(),
		log:      logger.Component("session-keeper"),
	}
}

// OnCheck registers fn to receive every check result, nil when the session is
// gone. Call before Start.
func (k *Keeper) OnCheck(fn func(trigger string, s *Session)) {
	k.onCheck = fn
}

// Start schedules the periodic check. It runs until Stop.
func (k *Keeper) Start(ctx context.Context) error {
	_, err := k.cron.AddFunc("@every "+k.interval.String(), func() {
		k.check(ctx, "interval")
	})
	if err != nil {
		return err
	}
	k.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running check.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
}

// Visible runs the check immediately, as on a visibility change.
func (k *Keeper) Visible(ctx context.Context) *Session {
	return k.check(ctx, "visible")
}

func (k *Keeper) check(ctx context.Context, trigger string) *Session {
	s, err := k.v.EnsureValid(ctx)
	if err != nil {
		k.log.Warn().Err(err).Str("trigger", trigger).Msg("session check failed")
		s = nil
	}
	if k.onCheck != nil {
		k.onCheck(trigger, s)
	}
	return s
}
