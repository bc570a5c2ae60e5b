package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

// TrackReady implements the batch-readiness half of spec §4.8: called once,
// right when an instance's status_context first leaves "new" for anything
// else, it emits `life/ready{batch_id}` and, if this was the last instance
// in its batch to become ready, sends a one-shot system message to
// "launcher" reporting the batch complete.
//
// in.BatchID empty means the instance wasn't part of a launch batch; this
// is then a no-op.
func TrackReady(ctx context.Context, st *store.Store, waker Waker, in store.Instance) error {
	if in.BatchID == "" {
		return nil
	}
	if _, err := appendLife(ctx, st, in.Name, Life{Action: "ready", By: in.Name, BatchID: in.BatchID}); err != nil {
		return err
	}

	launched, ok, err := batchLaunchedCount(ctx, st, in.BatchID)
	if err != nil || !ok {
		return err
	}
	ready, err := countReady(ctx, st, in.BatchID)
	if err != nil {
		return fmt.Errorf("counting ready events for batch %s: %w", in.BatchID, err)
	}
	if ready < launched {
		return nil
	}

	notifiedKey := "batch_notified:" + in.BatchID
	_, already, err := st.KVGet(ctx, notifiedKey)
	if err != nil {
		return fmt.Errorf("checking batch notification guard: %w", err)
	}
	if already {
		return nil
	}
	if err := st.KVSet(ctx, notifiedKey, "1"); err != nil {
		return fmt.Errorf("setting batch notification guard: %w", err)
	}

	text := fmt.Sprintf("[hcom-launcher] All %d instances ready (batch: %s)", launched, in.BatchID)
	if _, _, err := messagebus.Send(ctx, st, waker, nil, messagebus.SendParams{
		From:       "hcom-launcher",
		Text:       text,
		Targets:    []string{"@launcher"},
		SenderKind: messagebus.SenderSystem,
	}); err != nil {
		return fmt.Errorf("sending batch readiness notification: %w", err)
	}
	return nil
}

// batchLaunchedCount finds the `life/batch_launched{batch_id}` event for
// batchID and returns its `launched` count. ok is false if no such event
// exists yet (batch readiness can't be judged until it's recorded).
func batchLaunchedCount(ctx context.Context, st *store.Store, batchID string) (int, bool, error) {
	rows, err := st.RunSQL(ctx,
		`SELECT data FROM events_v WHERE type = 'life' AND life_action = 'batch_launched' AND life_batch_id = ? ORDER BY id DESC LIMIT 1`,
		batchID)
	if err != nil {
		return 0, false, fmt.Errorf("querying batch_launched event for %s: %w", batchID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, nil
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return 0, false, fmt.Errorf("scanning batch_launched event: %w", err)
	}
	var life Life
	if err := json.Unmarshal([]byte(raw), &life); err != nil {
		return 0, false, fmt.Errorf("decoding batch_launched event: %w", err)
	}
	return life.Launched, true, nil
}

func countReady(ctx context.Context, st *store.Store, batchID string) (int, error) {
	rows, err := st.RunSQL(ctx,
		`SELECT COUNT(*) FROM events_v WHERE type = 'life' AND life_action = 'ready' AND life_batch_id = ?`,
		batchID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// RecordBatchLaunched emits the `life/batch_launched{batch_id}` event a
// launcher writes once, up front, declaring how many instances it is about
// to start (spec §4.8's readiness-count denominator).
func RecordBatchLaunched(ctx context.Context, st *store.Store, by, batchID string, launched int) (int64, error) {
	return appendLife(ctx, st, by, Life{Action: "batch_launched", By: by, BatchID: batchID, Launched: launched})
}
