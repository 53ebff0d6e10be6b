package hybrid

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/creastat/chatsync"
)

// startReconcile merges local and remote copies in the background once the
// remote store became available for userID.
func (s *Synchronizer) startReconcile(epoch uint64, userID string) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	ctx := s.epochCtx
	s.reconciling++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.epoch == epoch {
				s.reconciling--
			}
			s.mu.Unlock()
		}()
		if err := s.reconcile(ctx, epoch, userID); err != nil {
			s.remoteFailed(epoch, "reconcile", err)
		}
	}()
}

// reconcile finishes pending remote deletes, then pulls sessions the device
// lacks or holds an older copy of, and queues local sessions the remote store
// lacks or holds an older copy of. Last write wins on UpdatedAt.
func (s *Synchronizer) reconcile(ctx context.Context, epoch uint64, userID string) error {
	if err := s.flushTombstones(ctx, epoch, userID); err != nil {
		return err
	}
	remoteSessions, err := s.remote.List(ctx, userID)
	if err != nil {
		return err
	}
	localSessions, err := s.allLocal(ctx)
	if err != nil {
		s.logger.Error("reconcile could not read local sessions", "err", err)
		return nil
	}

	remoteByID := make(map[string]*chatsync.ChatSession, len(remoteSessions))
	for _, r := range remoteSessions {
		remoteByID[r.ID] = r
	}
	localByID := make(map[string]*chatsync.ChatSession, len(localSessions))
	for _, l := range localSessions {
		localByID[l.ID] = l
	}

	pulled := 0
	for _, r := range remoteSessions {
		if l := localByID[r.ID]; l != nil && !r.NewerThan(l) {
			continue
		}
		ok, stored, err := s.pull(ctx, epoch, r)
		if err != nil {
			s.logger.Error("failed to store remote session", "session", r.ID, "err", err)
			continue
		}
		if !ok {
			return nil
		}
		if stored {
			pulled++
		}
	}

	pushed := 0
	for _, l := range localSessions {
		if r := remoteByID[l.ID]; r != nil && !l.NewerThan(r) {
			continue
		}
		ok, queued, err := s.push(ctx, epoch, l.ID)
		if err != nil {
			s.logger.Error("failed to read local session", "session", l.ID, "err", err)
			continue
		}
		if !ok {
			return nil
		}
		if queued {
			pushed++
		}
	}

	// Deletes made while reconciling kept their tombstones; finish them now
	// that no pull can follow.
	if err := s.flushTombstones(ctx, epoch, userID); err != nil {
		return err
	}

	s.logger.Info("reconciled sessions", "user", userID, "pulled", pulled, "pushed", pushed)
	return nil
}

// flushTombstones repeats the remote delete of every tombstoned session and
// clears each tombstone whose delete succeeded.
func (s *Synchronizer) flushTombstones(ctx context.Context, epoch uint64, userID string) error {
	ids, err := s.tombstones(ctx)
	if err != nil {
		s.logger.Error("reconcile could not read tombstones", "err", err)
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.reconcileLimit)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.remote.Delete(gctx, userID, id); err != nil {
				return err
			}
			s.forgetTombstone(gctx, epoch, id, 1)
			return nil
		})
	}
	return g.Wait()
}

// pull stores a remote copy locally unless the epoch moved on or the session
// was deleted meanwhile. ok is false when the epoch is gone.
func (s *Synchronizer) pull(ctx context.Context, epoch uint64, session *chatsync.ChatSession) (ok, stored bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return false, false, nil
	}
	deleted, err := s.deleted(ctx, session.ID)
	if err != nil || deleted {
		return true, false, err
	}

	// Re-check under the lock: a local append may have landed since List.
	current, err := s.local.Get(ctx, session.ID)
	if err != nil {
		return true, false, err
	}
	if current != nil && !session.NewerThan(current) {
		return true, false, nil
	}
	if err := s.local.Put(ctx, session); err != nil {
		return true, false, err
	}
	return true, true, nil
}

// push queues the current local copy of id for upload. The copy is re-read
// under the lock so a delete or append made since the snapshot wins, and the
// upload is ordered with any queued write for the same session.
func (s *Synchronizer) push(ctx context.Context, epoch uint64, id string) (ok, queued bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return false, false, nil
	}
	deleted, err := s.deleted(ctx, id)
	if err != nil || deleted {
		return true, false, err
	}
	current, err := s.local.Get(ctx, id)
	if err != nil || current == nil {
		return true, false, err
	}
	s.enqueueUpsert(current)
	return true, true, nil
}

func (s *Synchronizer) allLocal(ctx context.Context) ([]*chatsync.ChatSession, error) {
	dates, err := s.local.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dates: %w", err)
	}
	var out []*chatsync.ChatSession
	for _, date := range dates {
		sessions, err := s.local.ListSessionsForDate(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions for %s: %w", date, err)
		}
		out = append(out, sessions...)
	}
	return out, nil
}
