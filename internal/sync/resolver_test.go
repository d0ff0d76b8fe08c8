package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fieldsync-service/internal/store"
)

// phoneConflict is the canonical two-sided edit: the local copy renamed the
// customer and the remote copy changed the phone number, and both touched
// the phone field differently.
func phoneConflict() store.Conflict {
	local := json.RawMessage(`{"name":"Bob","phone":"111","email":"bob@example.com"}`)
	remote := json.RawMessage(`{"name":"Bob","phone":"222","email":"bob@example.com"}`)

	return store.Conflict{
		ID:               "conflict-1",
		EntityType:       "customer",
		EntityID:         "c-1",
		LocalData:        local,
		RemoteData:       remote,
		LocalModifiedAt:  time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		RemoteModifiedAt: time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		FieldConflicts: []store.FieldConflict{
			{
				FieldName:   "phone",
				DisplayName: "Phone",
				FieldType:   "string",
				LocalValue:  "111",
				RemoteValue: "222",
				Resolution:  store.ResolutionPending,
			},
		},
	}
}

func decodePhone(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("resolved data is not valid JSON: %v", err)
	}
	phone, _ := doc["phone"].(string)
	return phone
}

func TestResolveServerWins(t *testing.T) {
	r := NewResolver(time.Second)
	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyServerWins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "222" {
		t.Errorf("server-wins must take the remote phone, got %q", got)
	}
}

func TestResolveClientWins(t *testing.T) {
	r := NewResolver(time.Second)
	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyClientWins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "111" {
		t.Errorf("client-wins must take the local phone, got %q", got)
	}
}

func TestResolveLastWriteWinsPicksLaterSideInFull(t *testing.T) {
	r := NewResolver(time.Second)

	// Remote is later in the canonical conflict.
	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "222" {
		t.Errorf("later remote write must win, got %q", got)
	}

	// Flip the timestamps: local becomes the winner.
	c := phoneConflict()
	c.LocalModifiedAt, c.RemoteModifiedAt = c.RemoteModifiedAt, c.LocalModifiedAt
	data, err = r.Resolve(context.Background(), c, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "111" {
		t.Errorf("later local write must win, got %q", got)
	}
}

func TestResolveMergeHonorsPerFieldDecisions(t *testing.T) {
	r := NewResolver(time.Second)
	c := phoneConflict()
	c.FieldConflicts[0].Resolution = store.ResolutionUseLocal

	data, err := r.Resolve(context.Background(), c, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "111" {
		t.Errorf("use-local on phone must keep the local value, got %q", got)
	}

	var doc map[string]interface{}
	json.Unmarshal(data, &doc)
	if doc["name"] != "Bob" || doc["email"] != "bob@example.com" {
		t.Errorf("non-conflicting fields lost in merge: %v", doc)
	}
}

func TestResolveMergeCustomValue(t *testing.T) {
	r := NewResolver(time.Second)
	c := phoneConflict()
	c.FieldConflicts[0].Resolution = store.ResolutionCustom
	c.FieldConflicts[0].ResolvedValue = "333"

	data, err := r.Resolve(context.Background(), c, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "333" {
		t.Errorf("custom resolution must apply the supplied value, got %q", got)
	}
}

func TestResolveMergePendingFieldDefaultsToServer(t *testing.T) {
	r := NewResolver(time.Second)

	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "222" {
		t.Errorf("undecided field must take the server value, got %q", got)
	}
}

func TestResolveMergeCastsCustomNumbers(t *testing.T) {
	r := NewResolver(time.Second)
	c := store.Conflict{
		EntityType: "invoice",
		EntityID:   "i-1",
		LocalData:  json.RawMessage(`{"amount":100,"status":"draft"}`),
		RemoteData: json.RawMessage(`{"amount":120,"status":"draft"}`),
		FieldConflicts: []store.FieldConflict{
			{
				FieldName:     "amount",
				FieldType:     "number",
				Resolution:    store.ResolutionCustom,
				ResolvedValue: "110.50",
			},
		},
	}

	data, err := r.Resolve(context.Background(), c, StrategyMerge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc map[string]interface{}
	json.Unmarshal(data, &doc)
	if doc["amount"] != 110.50 {
		t.Errorf("custom number must round-trip as JSON number, got %v (%T)", doc["amount"], doc["amount"])
	}
}

func TestResolveManualAppliesSubmittedDecision(t *testing.T) {
	r := NewResolver(5 * time.Second)

	requestCh := make(chan string, 1)
	r.SetRequestHandler(func(conflict store.Conflict, requestID string) {
		requestCh <- requestID
	})

	go func() {
		id := <-requestCh
		if err := r.SubmitDecision(id, DecisionUseClient); err != nil {
			t.Errorf("SubmitDecision: %v", err)
		}
	}()

	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "111" {
		t.Errorf("use-client decision must apply the local data, got %q", got)
	}

	if n := len(r.PendingRequests()); n != 0 {
		t.Errorf("expected no lingering requests, got %d", n)
	}
}

func TestResolveManualDiscard(t *testing.T) {
	r := NewResolver(5 * time.Second)
	r.SetRequestHandler(func(conflict store.Conflict, requestID string) {
		go r.SubmitDecision(requestID, DecisionDiscard)
	})

	_, err := r.Resolve(context.Background(), phoneConflict(), StrategyManual)
	if err != ErrDiscarded {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
}

func TestResolveManualTimeoutDefaultsToServer(t *testing.T) {
	r := NewResolver(20 * time.Millisecond)

	data, err := r.Resolve(context.Background(), phoneConflict(), StrategyManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "222" {
		t.Errorf("timeout must fall back to the server copy, got %q", got)
	}
}

func TestResolveManualCancelledContextLeavesConflictUndecided(t *testing.T) {
	r := NewResolver(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	r.SetRequestHandler(func(conflict store.Conflict, requestID string) {
		cancel()
	})

	_, err := r.Resolve(ctx, phoneConflict(), StrategyManual)
	if err != ErrNoDecision {
		t.Fatalf("expected ErrNoDecision, got %v", err)
	}
}

func TestSubmitDecisionUnknownRequest(t *testing.T) {
	r := NewResolver(time.Second)
	if err := r.SubmitDecision("nope", DecisionUseServer); err != ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestResolveUnknownStrategyFallsBackToServer(t *testing.T) {
	r := NewResolver(time.Second)
	data, err := r.Resolve(context.Background(), phoneConflict(), Strategy("coin_flip"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decodePhone(t, data); got != "222" {
		t.Errorf("unknown strategy must behave as server-wins, got %q", got)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"server_wins":     StrategyServerWins,
		"client_wins":     StrategyClientWins,
		"last_write_wins": StrategyLastWriteWins,
		"merge":           StrategyMerge,
		"manual":          StrategyManual,
		"":                StrategyLastWriteWins,
		"bogus":           StrategyLastWriteWins,
	}
	for in, want := range cases {
		if got := ParseStrategy(in); got != want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", in, got, want)
		}
	}
}
