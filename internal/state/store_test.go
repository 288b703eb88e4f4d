package state

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	cartA = Key{Kind: KindCart, ID: "a"}
	cartB = Key{Kind: KindCart, ID: "b"}
	favA  = Key{Kind: KindFavorite, ID: "a"}
)

func TestTracker_BeginFinishSuccess(t *testing.T) {
	var tr Tracker

	if tr.Status(cartA) != Synced {
		t.Fatalf("unknown key status = %v, want synced", tr.Status(cartA))
	}
	gen := tr.Begin(cartA)
	if tr.Status(cartA) != PendingRemote {
		t.Fatalf("status = %v, want pending", tr.Status(cartA))
	}
	if snap := tr.Snapshot(); snap.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", snap.Pending)
	}

	before := time.Now()
	if !tr.Finish(cartA, gen, nil) {
		t.Fatalf("Finish returned false for current generation")
	}
	if tr.Status(cartA) != Synced {
		t.Fatalf("status = %v, want synced", tr.Status(cartA))
	}
	snap := tr.Snapshot()
	if snap.Pending != 0 || len(snap.Failed) != 0 || snap.LastError != nil {
		t.Fatalf("snapshot = %#v, want clean", snap)
	}
	if snap.LastSuccess.Before(before) {
		t.Fatalf("LastSuccess = %v, want >= %v", snap.LastSuccess, before)
	}
}

func TestTracker_FailureRecordedAndCloned(t *testing.T) {
	var tr Tracker

	origErr := errors.New("boom")
	gen := tr.Begin(cartA)
	tr.Finish(cartA, gen, origErr)

	if tr.Status(cartA) != RemoteFailed {
		t.Fatalf("status = %v, want failed", tr.Status(cartA))
	}
	if !errors.Is(tr.LastError(cartA), origErr) {
		t.Fatalf("LastError = %v, want boom", tr.LastError(cartA))
	}
	if tr.LastError(cartB) != nil {
		t.Fatalf("LastError for unknown key = %v, want nil", tr.LastError(cartB))
	}

	snap := tr.Snapshot()
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
	if !reflect.DeepEqual(snap.Failed, []Key{cartA}) {
		t.Fatalf("Failed = %v, want [cart:a]", snap.Failed)
	}

	snap.Failed[0] = cartB
	if got := tr.Failed(); got[0] != cartA {
		t.Fatalf("Snapshot should clone failed keys; got %v", got)
	}
}

func TestTracker_StaleResultsDiscarded(t *testing.T) {
	var tr Tracker

	older := tr.Begin(cartA)
	newer := tr.Begin(cartA)

	if tr.Finish(cartA, older, errors.New("late failure")) {
		t.Fatalf("Finish accepted a superseded generation")
	}
	if tr.Status(cartA) != PendingRemote {
		t.Fatalf("status = %v, want still pending", tr.Status(cartA))
	}
	if !tr.Finish(cartA, newer, nil) {
		t.Fatalf("Finish rejected the newest generation")
	}
	if tr.Status(cartA) != Synced {
		t.Fatalf("status = %v, want synced", tr.Status(cartA))
	}

	gen := tr.Begin(favA)
	tr.Forget(favA)
	if tr.Finish(favA, gen, nil) {
		t.Fatalf("Finish accepted a forgotten key")
	}
}

func TestTracker_MarkFailedSupersedesInFlight(t *testing.T) {
	var tr Tracker
	errLost := errors.New("not confirmed")

	gen := tr.Begin(cartA)
	tr.MarkFailed(cartA, errLost)
	if tr.Finish(cartA, gen, nil) {
		t.Fatalf("Finish accepted a call superseded by MarkFailed")
	}
	if tr.Status(cartA) != RemoteFailed || !errors.Is(tr.LastError(cartA), errLost) {
		t.Fatalf("status = %v err = %v, want failed with errLost", tr.Status(cartA), tr.LastError(cartA))
	}
	if got := tr.Failed(); !reflect.DeepEqual(got, []Key{cartA}) {
		t.Fatalf("Failed = %v", got)
	}
	if snap := tr.Snapshot(); snap.ConsecutiveFailures != 0 || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v, want no call counted", snap)
	}
}

func TestTracker_ConsecutiveFailures(t *testing.T) {
	var tr Tracker

	if snap := tr.Snapshot(); snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("fresh tracker = %#v, want online", snap)
	}

	tr.Finish(cartA, tr.Begin(cartA), errors.New("e1"))
	if snap := tr.Snapshot(); snap.ConsecutiveFailures != 1 || snap.IsOffline() {
		t.Fatalf("after 1 failure = %#v, want online", snap)
	}

	tr.Finish(cartB, tr.Begin(cartB), errors.New("e2"))
	if snap := tr.Snapshot(); snap.ConsecutiveFailures != 2 || !snap.IsOffline() {
		t.Fatalf("after 2 failures = %#v, want offline", snap)
	}

	tr.Finish(favA, tr.Begin(favA), nil)
	snap := tr.Snapshot()
	if snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("after success = %#v, want online", snap)
	}
	if len(snap.Failed) != 2 {
		t.Fatalf("Failed = %v, earlier failures should stay recorded", snap.Failed)
	}
}

func TestTracker_FailedOrderingAndReset(t *testing.T) {
	var tr Tracker
	for _, k := range []Key{favA, cartB, cartA} {
		tr.Finish(k, tr.Begin(k), errors.New("x"))
	}
	want := []Key{cartA, cartB, favA}
	if got := tr.Failed(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Failed = %v, want %v", got, want)
	}

	tr.Reset()
	if got := tr.Failed(); len(got) != 0 {
		t.Fatalf("Failed after Reset = %v", got)
	}
	if snap := tr.Snapshot(); snap.ConsecutiveFailures != 0 || snap.LastError != nil {
		t.Fatalf("snapshot after Reset = %#v", snap)
	}
}

func TestTracker_ConcurrentUse(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := Key{Kind: KindCart, ID: string(rune('a' + i%5))}
			gen := tr.Begin(k)
			_ = tr.Snapshot()
			tr.Finish(k, gen, nil)
		}(i)
	}
	wg.Wait()
	if snap := tr.Snapshot(); snap.Pending != 0 || len(snap.Failed) != 0 {
		t.Fatalf("snapshot = %#v, want settled", snap)
	}
}

func TestMetrics_CountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics returned error: %v", err)
	}
	tr := NewTracker(m)

	tr.Finish(cartA, tr.Begin(cartA), nil)
	tr.Finish(cartB, tr.Begin(cartB), errors.New("x"))
	tr.Finish(cartB, 0, nil)
	pending := tr.Begin(favA)

	if got := testutil.ToFloat64(m.syncs.WithLabelValues("cart", resultOK)); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.syncs.WithLabelValues("cart", resultError)); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.syncs.WithLabelValues("cart", resultStale)); got != 1 {
		t.Fatalf("stale count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 1 {
		t.Fatalf("pending = %v, want 1", got)
	}
	tr.Finish(favA, pending, nil)

	if _, err := NewMetrics(reg); err == nil {
		t.Fatalf("second registration on the same registry should fail")
	}
}
