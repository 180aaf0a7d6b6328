package sqlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

func appendTestEvent(env *testEnv, projectID string, et types.EventType) *types.Event {
	env.t.Helper()
	e := &types.Event{
		ProjectID:  projectID,
		EntityType: "task",
		EntityID:   "task-1",
		Type:       et,
		Actor:      "test-user",
	}
	env.Tx(func(tx storage.Transaction) error {
		return tx.AppendEvent(env.Ctx, e)
	})
	return e
}

func TestEventSeqContiguousPerProject(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.CreateProject("one")
	p2 := env.CreateProject("two")

	// Creation itself appended nothing (the kernel does that); the log
	// starts empty here.
	for i := 1; i <= 3; i++ {
		e := appendTestEvent(env, p1.ID, types.EventTaskCreated)
		if e.Seq != int64(i) {
			t.Fatalf("project one event %d got seq %d", i, e.Seq)
		}
	}
	// Interleaved project two events number independently.
	e := appendTestEvent(env, p2.ID, types.EventTaskCreated)
	if e.Seq != 1 {
		t.Errorf("project two first event seq = %d, want 1", e.Seq)
	}
	e = appendTestEvent(env, p1.ID, types.EventTaskStateChanged)
	if e.Seq != 4 {
		t.Errorf("project one continues at seq %d, want 4", e.Seq)
	}
}

func TestEventRollbackLeavesNoGap(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("gapless")
	appendTestEvent(env, p.ID, types.EventTaskCreated)

	boom := errors.New("boom")
	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		if err := tx.AppendEvent(env.Ctx, &types.Event{
			ProjectID:  p.ID,
			EntityType: "task",
			EntityID:   "task-1",
			Type:       types.EventTaskStateChanged,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback, got %v", err)
	}

	e := appendTestEvent(env, p.ID, types.EventTaskStateChanged)
	if e.Seq != 2 {
		t.Errorf("seq after rollback = %d, want 2 (no gap, no reuse)", e.Seq)
	}

	latest, err := env.Store.LatestSeq(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("LatestSeq failed: %v", err)
	}
	if latest != 2 {
		t.Errorf("LatestSeq = %d, want 2", latest)
	}
}

func TestListEventsAfterSeq(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("listing")
	for i := 0; i < 5; i++ {
		et := types.EventTaskCreated
		if i%2 == 1 {
			et = types.EventTaskStateChanged
		}
		appendTestEvent(env, p.ID, et)
	}

	got, err := env.Store.ListEvents(env.Ctx, p.ID, 2, 10, nil)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("after seq 2 got %d events, want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(3+i) {
			t.Errorf("event %d seq = %d, want %d (ordered by seq)", i, e.Seq, 3+i)
		}
	}

	filtered, err := env.Store.ListEvents(env.Ctx, p.ID, 0, 10, []types.EventType{types.EventTaskStateChanged})
	if err != nil {
		t.Fatalf("filtered ListEvents failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("type filter got %d events, want 2", len(filtered))
	}
	for _, e := range filtered {
		if e.Type != types.EventTaskStateChanged {
			t.Errorf("filter leaked event type %s", e.Type)
		}
	}

	limited, err := env.Store.ListEvents(env.Ctx, p.ID, 0, 2, nil)
	if err != nil {
		t.Fatalf("limited ListEvents failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Seq != 1 {
		t.Errorf("limit should return the first 2 events, got %d starting at seq %d",
			len(limited), limited[0].Seq)
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("payloads")

	payload, err := types.EncodePayload(types.StateChangePayload{
		From: types.StateReady,
		To:   types.StateClaimed,
	})
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}
	env.Tx(func(tx storage.Transaction) error {
		return tx.AppendEvent(env.Ctx, &types.Event{
			ProjectID:  p.ID,
			EntityType: "task",
			EntityID:   "task-9",
			Type:       types.EventTaskStateChanged,
			Actor:      "agent-1",
			Payload:    payload,
		})
	})

	got, err := env.Store.ListEvents(env.Ctx, p.ID, 0, 1, nil)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var decoded types.StateChangePayload
	if err := got[0].DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if decoded.From != types.StateReady || decoded.To != types.StateClaimed {
		t.Errorf("payload = %+v, want ready -> claimed", decoded)
	}
}

func TestCursorNeverMovesBackward(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("cursors")

	ack := func(seq int64) {
		env.Tx(func(tx storage.Transaction) error {
			return tx.AckCursor(env.Ctx, "jsonl", p.ID, seq)
		})
	}
	cursor := func() int64 {
		seq, err := env.Store.GetCursor(env.Ctx, "jsonl", p.ID)
		if err != nil {
			t.Fatalf("GetCursor failed: %v", err)
		}
		return seq
	}

	if cursor() != 0 {
		t.Fatalf("fresh cursor = %d, want 0", cursor())
	}
	ack(5)
	if cursor() != 5 {
		t.Errorf("cursor = %d, want 5", cursor())
	}
	ack(3)
	if cursor() != 5 {
		t.Errorf("cursor moved backward to %d after late ack", cursor())
	}
	ack(9)
	if cursor() != 9 {
		t.Errorf("cursor = %d, want 9", cursor())
	}

	// Cursors are per consumer name.
	if got, err := env.Store.GetCursor(env.Ctx, "metrics", p.ID); err != nil || got != 0 {
		t.Errorf("metrics cursor = %d (err %v), want 0", got, err)
	}
}

func TestEventsForEntity(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("entities")

	for i := 0; i < 3; i++ {
		env.Tx(func(tx storage.Transaction) error {
			return tx.AppendEvent(env.Ctx, &types.Event{
				ProjectID:  p.ID,
				EntityType: "task",
				EntityID:   fmt.Sprintf("task-%d", i%2),
				Type:       types.EventTaskStateChanged,
			})
		})
	}

	got, err := env.Store.EventsForEntity(env.Ctx, "task-0", 10)
	if err != nil {
		t.Fatalf("EventsForEntity failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entity task-0 has %d events, want 2", len(got))
	}
	if got[0].Seq < got[1].Seq {
		t.Errorf("entity events should be newest first")
	}
}
