package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
)

// PurgeDue anonymizes every account whose grace period has passed and
// publishes DELETED for each. Each account is handled in its own transaction;
// failures are logged and the sweep continues.
func (s *Service) PurgeDue(ctx context.Context) (int, error) {
	ids, err := s.store.ListPurgeable(ctx, s.now(), s.batch)
	if err != nil {
		return 0, err
	}

	var (
		purged int
		errs   []error
	)
	for _, id := range ids {
		done, err := s.purge(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("user_id", id).Error("purge failed")
			errs = append(errs, err)
			continue
		}
		if done {
			purged++
		}
	}
	return purged, errors.Join(errs...)
}

func (s *Service) purge(ctx context.Context, id int64) (bool, error) {
	done := false
	err := s.store.RunInTransaction(ctx, store.Serializable, func(tx store.Store) error {
		found, err := tx.LockUser(ctx, id)
		if err != nil || !found {
			return err
		}
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		// recovered or already purged since the listing
		if !u.PendingDeletion() || u.DeletedAt.After(s.now()) {
			return nil
		}

		u.Anonymize(s.now())
		if err := tx.AnonymizeUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := s.events.PublishDeleted(ctx, u); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("purge user %d: %w", id, err)
	}
	if done {
		if err := s.sessions.Delete(ctx, sessionKey(id)); err != nil {
			s.log.WithError(err).WithField("user_id", id).Warn("failed to drop session of purged user")
		}
		s.log.WithField("user_id", id).Info("user anonymized")
	}
	return done, nil
}

// RunPurger calls PurgeDue every interval until ctx ends.
func (s *Service) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeDue(ctx)
			entry := s.log.WithField("purged", n)
			if err != nil {
				entry.WithError(err).Warn("purge sweep finished with errors")
			} else if n > 0 {
				entry.Info("purge sweep finished")
			}
		}
	}
}
