package expiration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2026, 5, 4, 1, 30, 0, 0, time.UTC),
			hour: 3,
			want: time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "already past",
			now:  time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
			hour: 3,
			want: time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly on the hour",
			now:  time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC),
			hour: 3,
			want: time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "month rollover",
			now:  time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC),
			hour: 0,
			want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		if got := NextRun(tc.now, tc.hour); !got.Equal(tc.want) {
			t.Fatalf("%s: NextRun=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestRunDaily_StopsOnCancel(t *testing.T) {
	t.Parallel()

	j, err := New(NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := j.RunDaily(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := j.RunDaily(context.Background(), 24); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRunDaily_WaitsOnInjectedClock(t *testing.T) {
	t.Parallel()

	// Far from wall time so only the injected clock can make the slot due.
	now := time.Date(2099, 1, 1, 2, 59, 59, 980_000_000, time.UTC)

	store := NewMemoryStore()
	store.PutCustomer(Customer{ID: 1, Balance: 70, LastActivity: now.AddDate(-2, 0, 0)})

	j, err := New(store, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.RunDaily(ctx, 3) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, _ := store.Customer(1); c.Balance == 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("scheduled run did not fire")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
