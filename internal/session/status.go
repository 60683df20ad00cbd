package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/status"
	"pkt.systems/afkcraft/schema"
)

// Status reads the user's container state. An absent container is a normal
// result; errors are returned only when the runtime cannot answer.
func (o *Orchestrator) Status(ctx context.Context, user schema.UserKey) (schema.StatusSnapshot, error) {
	const op = "status"
	if err := schema.ValidateUserKey(user); err != nil {
		return schema.StatusSnapshot{}, schema.NewSessionError(schema.SessionErrorInvalidUser, op, err)
	}
	log := logx.WithContainer(logx.WithUser(ctx, user), ContainerName(user), "")

	c, err := o.get(ctx, ContainerName(user))
	if err != nil {
		if errors.Is(err, shipohoy.ErrNotFound) {
			return status.Translate(status.Input{}), nil
		}
		log.Warn("session status failed", "stage", "inspect", "err", err)
		return schema.StatusSnapshot{}, Classify(op, err)
	}

	var (
		sample *shipohoy.Stats
		logs   []string
	)
	var g errgroup.Group
	if status.MapState(c.State.Status) == schema.RunStateRunning {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, o.cfg.StatsTimeout)
			defer cancel()
			s, err := o.rt.Stats(ctx, c)
			if err != nil {
				if fatalReadError(err) {
					return err
				}
				log.Debug("session stats unavailable", "err", err)
				return nil
			}
			sample = &s
			return nil
		})
	}
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.StatsTimeout)
		defer cancel()
		lines, err := o.rt.Logs(ctx, c, o.cfg.LogTail)
		if err != nil {
			if fatalReadError(err) {
				return err
			}
			log.Debug("session logs unavailable", "err", err)
			return nil
		}
		logs = lines
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warn("session status failed", "stage", "sample", "err", err)
		return schema.StatusSnapshot{}, Classify(op, err)
	}
	return o.translator.Translate(status.Input{Container: &c, Stats: sample, Logs: logs}), nil
}

// Stats projects Status onto its resource figures. An absent container is
// reported as not_running; a present container without a sample yields nil.
// Callers that treat absence as a normal result use Status instead.
func (o *Orchestrator) Stats(ctx context.Context, user schema.UserKey) (*schema.Stats, error) {
	snap, err := o.Status(ctx, user)
	if err != nil {
		return nil, err
	}
	if snap.Existence == schema.ExistenceAbsent {
		return nil, &schema.SessionError{
			Kind:    schema.SessionErrorNotRunning,
			Op:      "stats",
			Message: "no session for " + string(user),
		}
	}
	return snap.Stats, nil
}

// Prune removes client containers that are no longer running and are at
// least minAge old. User volumes are kept.
func (o *Orchestrator) Prune(ctx context.Context, minAge time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StatsTimeout)
	defer cancel()
	n, err := o.rt.Janitor(ctx, shipohoy.JanitorSpec{
		LabelSelector: map[string]string{LabelRole: RoleClient},
		MinAge:        minAge,
	})
	if err != nil {
		return n, Classify("prune", err)
	}
	return n, nil
}

func fatalReadError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, shipohoy.ErrUnavailable)
}
