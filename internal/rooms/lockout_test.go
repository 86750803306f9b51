package rooms

import (
	"testing"
	"time"
)

func newTestLockout(t *testing.T, maxAttempts int) (*Lockout, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLockout(maxAttempts, 15*time.Minute, 10*time.Minute)
	l.now = func() time.Time { return now }
	t.Cleanup(l.Close)
	return l, &now
}

func TestLockout_LocksAtThreshold(t *testing.T) {
	l, _ := newTestLockout(t, 3)

	for i := 0; i < 2; i++ {
		if locked, _ := l.Fail("R1"); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}
	locked, until := l.Fail("R1")
	if !locked {
		t.Fatal("expected lock after 3 failures")
	}
	if until.IsZero() {
		t.Fatal("expected lock expiry")
	}
	if ok, _ := l.Locked("R1"); !ok {
		t.Fatal("Locked(R1) = false")
	}
	if ok, _ := l.Locked("R2"); ok {
		t.Fatal("other rooms must not be affected")
	}
}

func TestLockout_Expires(t *testing.T) {
	l, now := newTestLockout(t, 1)

	l.Fail("R1")
	if ok, _ := l.Locked("R1"); !ok {
		t.Fatal("expected lock")
	}
	*now = now.Add(16 * time.Minute)
	if ok, _ := l.Locked("R1"); ok {
		t.Fatal("expected lock to expire")
	}
}

func TestLockout_WindowResetsCount(t *testing.T) {
	l, now := newTestLockout(t, 2)

	l.Fail("R1")
	*now = now.Add(11 * time.Minute)
	if locked, _ := l.Fail("R1"); locked {
		t.Fatal("failures outside the window must not accumulate")
	}
}

func TestLockout_SucceedClears(t *testing.T) {
	l, _ := newTestLockout(t, 2)

	l.Fail("R1")
	l.Succeed("R1")
	if locked, _ := l.Fail("R1"); locked {
		t.Fatal("success should reset the failure count")
	}
}

func TestLockout_Prune(t *testing.T) {
	l, now := newTestLockout(t, 5)

	l.Fail("R1")
	*now = now.Add(time.Hour)
	l.prune()

	l.mu.Lock()
	n := len(l.attempts)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected stale entries pruned, %d left", n)
	}
}

func TestLockout_Disabled(t *testing.T) {
	l := NewLockout(0, time.Minute, time.Minute)
	defer l.Close()

	for i := 0; i < 100; i++ {
		if locked, _ := l.Fail("R1"); locked {
			t.Fatal("disabled lockout must never lock")
		}
	}

	var nilLockout *Lockout
	if ok, _ := nilLockout.Locked("R1"); ok {
		t.Fatal("nil lockout must never lock")
	}
	nilLockout.Close()
}
