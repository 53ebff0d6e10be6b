package hybrid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creastat/chatsync"
)

// TombstonePrefix prefixes the meta keys of sessions deleted locally whose
// remote copy may still exist. A tombstone is cleared once the remote
// delete succeeds.
const TombstonePrefix = "tombstone:"

func tombstoneKey(id string) string {
	return TombstonePrefix + id
}

// pendingOp is the latest remote change wanted for one session.
type pendingOp struct {
	session *chatsync.ChatSession // nil means delete
}

// syncQueue orders remote writes per session and coalesces bursts: while a
// write for a session is in flight only its newest follow-up is kept.
// It belongs to one epoch and is replaced when the epoch advances.
type syncQueue struct {
	pending  map[string]pendingOp
	inflight map[string]bool
}

func newSyncQueue() *syncQueue {
	return &syncQueue{
		pending:  make(map[string]pendingOp),
		inflight: make(map[string]bool),
	}
}

// enqueueUpsert schedules a remote upsert of session. Callers hold mu.
func (s *Synchronizer) enqueueUpsert(session *chatsync.ChatSession) {
	s.enqueue(session.ID, pendingOp{session: session.Clone()})
}

// enqueueDelete schedules a remote delete. Callers hold mu and have recorded
// a tombstone with markDeleted.
func (s *Synchronizer) enqueueDelete(id string) {
	s.enqueue(id, pendingOp{})
}

// markDeleted records a tombstone for id. It is written in every state so a
// later reconcile can finish the remote delete. Callers hold mu.
func (s *Synchronizer) markDeleted(ctx context.Context, id string) error {
	if err := s.local.SetMeta(ctx, tombstoneKey(id), s.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record deletion: %w", err)
	}
	return nil
}

// deleted reports whether id carries a tombstone. Callers hold mu.
func (s *Synchronizer) deleted(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.local.GetMeta(ctx, tombstoneKey(id))
	return ok, err
}

// tombstones lists the ids of sessions still waiting for a remote delete.
func (s *Synchronizer) tombstones(ctx context.Context) ([]string, error) {
	meta, err := s.local.ListMeta(ctx, TombstonePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	ids := make([]string, 0, len(meta))
	for key := range meta {
		ids = append(ids, strings.TrimPrefix(key, TombstonePrefix))
	}
	return ids, nil
}

// forgetTombstone clears the tombstone of id after its remote delete, unless
// the epoch moved on or a reconcile other than the caller's own may still pull
// the session back. running is the number of reconciles the caller is part of.
// A tombstone left behind only repeats the delete on the next reconcile.
func (s *Synchronizer) forgetTombstone(ctx context.Context, epoch uint64, id string, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.reconciling > running {
		return
	}
	s.clearTombstone(ctx, id)
}

// clearTombstone drops the tombstone of id. Callers hold mu.
func (s *Synchronizer) clearTombstone(ctx context.Context, id string) {
	if err := s.local.DeleteMeta(ctx, tombstoneKey(id)); err != nil {
		s.logger.Warn("failed to clear tombstone", "session", id, "err", err)
	}
}

func (s *Synchronizer) enqueue(id string, op pendingOp) {
	if s.closed || s.State() != CloudAvailable || s.user == nil || s.remote == nil {
		return
	}
	q := s.queue
	q.pending[id] = op
	if q.inflight[id] {
		return
	}
	q.inflight[id] = true

	epoch, ctx, userID := s.epoch, s.epochCtx, s.user.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drain(ctx, epoch, q, userID, id)
	}()
}

// drain sends the pending operations of one session until none is left,
// the epoch moves on or the remote store degrades.
func (s *Synchronizer) drain(ctx context.Context, epoch uint64, q *syncQueue, userID, id string) {
	for {
		s.mu.Lock()
		op, ok := q.pending[id]
		if !ok || s.closed || s.epoch != epoch || s.State() != CloudAvailable {
			delete(q.inflight, id)
			s.mu.Unlock()
			return
		}
		delete(q.pending, id)
		s.mu.Unlock()

		if op.session == nil {
			if err := s.remote.Delete(ctx, userID, id); err != nil {
				// The tombstone stays; reconcile retries the delete.
				s.logger.Warn("remote delete failed", "session", id, "err", err)
				continue
			}
			s.forgetTombstone(ctx, epoch, id, 0)
			continue
		}
		if err := s.remote.Upsert(ctx, userID, op.session); err != nil {
			s.remoteFailed(epoch, "upsert", err)
		}
	}
}
