package reconcile

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	v1 "spendsync/shared/contracts/realtime/v1"
)

func event(kind v1.Kind, id string, version int64, title string) v1.MutationEvent {
	ev := v1.MutationEvent{
		EventID:    "evt-" + id,
		Kind:       kind,
		RecordType: v1.RecordExpense,
		RecordID:   id,
		AccountID:  "acct",
		Version:    version,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
	if kind != v1.KindDelete {
		ev.Record = json.RawMessage(`{"id":"` + id + `","title":"` + title + `"}`)
	}
	return ev
}

func title(t *testing.T, s *State, id string) string {
	t.Helper()
	e, ok := s.Get(id)
	if !ok {
		t.Fatalf("%s missing", id)
	}
	var rec struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(e.Record, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Title
}

func TestApply_IdempotentForEveryKind(t *testing.T) {
	for _, ev := range []v1.MutationEvent{
		event(v1.KindCreate, "e1", 1, "Lunch"),
		event(v1.KindUpdate, "e1", 2, "Dinner"),
		event(v1.KindDelete, "e1", 0, ""),
	} {
		once := New("acct", v1.RecordExpense)
		twice := New("acct", v1.RecordExpense)
		seed := event(v1.KindCreate, "e1", 1, "Lunch")
		once.Apply(seed)
		twice.Apply(seed)

		once.Apply(ev)
		twice.Apply(ev)
		if got := twice.Apply(ev); got == Applied {
			t.Fatalf("%s: second apply changed state", ev.Kind)
		}
		if !reflect.DeepEqual(once.Entries(), twice.Entries()) {
			t.Fatalf("%s: once=%+v twice=%+v", ev.Kind, once.Entries(), twice.Entries())
		}
	}
}

func TestApply_VersionOrdering(t *testing.T) {
	s := New("acct", v1.RecordExpense)

	if got := s.Apply(event(v1.KindUpdate, "e1", 3, "v3")); got != Applied {
		t.Fatalf("update for unknown id: %s", got)
	}
	if got := s.Apply(event(v1.KindUpdate, "e1", 2, "v2")); got != Stale {
		t.Fatalf("older update: %s", got)
	}
	if got := s.Apply(event(v1.KindCreate, "e1", 1, "v1")); got != Stale {
		t.Fatalf("late create: %s", got)
	}
	if got := s.Apply(event(v1.KindUpdate, "e1", 3, "v3")); got != Duplicate {
		t.Fatalf("same version: %s", got)
	}
	if title(t, s, "e1") != "v3" {
		t.Fatalf("title=%s", title(t, s, "e1"))
	}
}

func TestApply_DeleteTombstones(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	s.Apply(event(v1.KindCreate, "e1", 1, "Lunch"))

	if got := s.Apply(event(v1.KindDelete, "e1", 0, "")); got != Applied {
		t.Fatalf("delete: %s", got)
	}
	if _, ok := s.Get("e1"); ok {
		t.Fatalf("record still present")
	}
	if got := s.Apply(event(v1.KindUpdate, "e1", 5, "ghost")); got != Stale {
		t.Fatalf("update after delete: %s", got)
	}
	if got := s.Apply(event(v1.KindDelete, "e1", 0, "")); got != Duplicate {
		t.Fatalf("repeat delete: %s", got)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestApply_IgnoresForeignAndInvalidEvents(t *testing.T) {
	s := New("acct", v1.RecordExpense)

	other := event(v1.KindCreate, "e1", 1, "x")
	other.AccountID = "someone-else"
	if got := s.Apply(other); got != Ignored {
		t.Fatalf("foreign account: %s", got)
	}

	wrongType := event(v1.KindCreate, "e2", 1, "x")
	wrongType.RecordType = "budget"
	if got := s.Apply(wrongType); got != Ignored {
		t.Fatalf("foreign record type: %s", got)
	}

	noRecord := event(v1.KindCreate, "e3", 1, "x")
	noRecord.Record = nil
	if got := s.Apply(noRecord); got != Ignored {
		t.Fatalf("invalid: %s", got)
	}
	if s.Len() != 0 {
		t.Fatalf("ignored events changed state")
	}
}

func TestApplyLocal_LastWriteWins(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	s.Apply(event(v1.KindCreate, "e1", 1, "server-v1"))

	s.ApplyLocal("e1", 1, json.RawMessage(`{"id":"e1","title":"local edit"}`))
	if e, _ := s.Get("e1"); !e.Local || title(t, s, "e1") != "local edit" {
		t.Fatalf("optimistic write not held: %+v", e)
	}

	if got := s.Apply(event(v1.KindUpdate, "e1", 2, "server-v2")); got != Applied {
		t.Fatalf("server update: %s", got)
	}
	e, _ := s.Get("e1")
	if e.Local || e.Version != 2 || title(t, s, "e1") != "server-v2" {
		t.Fatalf("server copy must win: %+v", e)
	}
}

func TestApplyLocal_StaleServerEventLoses(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	s.Apply(event(v1.KindCreate, "e1", 1, "v1"))
	s.Apply(event(v1.KindUpdate, "e1", 2, "v2"))
	s.ApplyLocal("e1", 2, json.RawMessage(`{"id":"e1","title":"mine"}`))

	if got := s.Apply(event(v1.KindUpdate, "e1", 1, "v1")); got != Stale {
		t.Fatalf("older server event: %s", got)
	}
	if title(t, s, "e1") != "mine" {
		t.Fatalf("pending edit lost")
	}
}

func TestDeleteLocal_ServerDeleteIsDuplicate(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	s.Apply(event(v1.KindCreate, "e1", 1, "x"))
	s.DeleteLocal("e1")

	if got := s.Apply(event(v1.KindDelete, "e1", 0, "")); got != Duplicate {
		t.Fatalf("server delete: %s", got)
	}
	s.ApplyLocal("e1", 1, json.RawMessage(`{}`))
	if _, ok := s.Get("e1"); ok {
		t.Fatalf("deleted id resurrected locally")
	}
}

func TestReset_RefreshThenLateEventsAreNoOps(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	s.ApplyLocal("tmp", 0, json.RawMessage(`{"id":"tmp"}`))
	s.Apply(event(v1.KindDelete, "gone", 0, ""))

	s.Reset([]Entry{
		{ID: "e1", Version: 2, Record: json.RawMessage(`{"id":"e1","title":"fresh"}`)},
		{ID: "e2", Version: 1, Record: json.RawMessage(`{"id":"e2","title":"b"}`)},
	})
	if s.Len() != 2 {
		t.Fatalf("len=%d", s.Len())
	}
	if _, ok := s.Get("tmp"); ok {
		t.Fatalf("pending local write survived a reset")
	}

	if got := s.Apply(event(v1.KindUpdate, "e1", 2, "fresh")); got != Duplicate {
		t.Fatalf("late event for refreshed state: %s", got)
	}
	if got := s.Apply(event(v1.KindCreate, "e1", 1, "old")); got != Stale {
		t.Fatalf("old create after refresh: %s", got)
	}
	if got := s.Apply(event(v1.KindCreate, "gone", 1, "old")); got != Stale {
		t.Fatalf("tombstone lost on reset: %s", got)
	}
}

func TestApplyEnvelope(t *testing.T) {
	s := New("acct", v1.RecordExpense)

	env, err := v1.NewEnvelope(v1.TypeMutation, "m1", time.Now(), event(v1.KindCreate, "e1", 1, "x"))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if got, err := s.ApplyEnvelope(env); err != nil || got != Applied {
		t.Fatalf("apply envelope: %s %v", got, err)
	}

	ping, err := v1.NewEnvelope(v1.TypePing, "p1", time.Now(), v1.PingPayload{Nonce: "n"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if got, err := s.ApplyEnvelope(ping); err != nil || got != Ignored {
		t.Fatalf("non-mutation envelope: %s %v", got, err)
	}

	bad := v1.Envelope{V: v1.Version, Type: v1.TypeMutation, TS: time.Now(), Payload: json.RawMessage(`"nope"`)}
	if _, err := s.ApplyEnvelope(bad); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestApply_ConcurrentDuplicates(t *testing.T) {
	s := New("acct", v1.RecordExpense)
	evs := []v1.MutationEvent{
		event(v1.KindCreate, "e1", 1, "a"),
		event(v1.KindUpdate, "e1", 2, "b"),
		event(v1.KindUpdate, "e1", 3, "c"),
		event(v1.KindCreate, "e2", 1, "d"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range evs {
				s.Apply(ev)
			}
		}()
	}
	wg.Wait()

	if s.Len() != 2 || title(t, s, "e1") != "c" {
		t.Fatalf("entries=%+v", s.Entries())
	}
}
