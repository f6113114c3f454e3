package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestApproveResolvesWait(t *testing.T) {
	tests := []struct {
		name     string
		decision bool
	}{
		{"approved", true},
		{"rejected", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("run_code", map[string]any{"source": "print(4)"})

			go func() {
				time.Sleep(10 * time.Millisecond)
				if err := req.Approve(tt.decision); err != nil {
					t.Errorf("Approve() = %v, want nil", err)
				}
			}()

			got, err := req.Wait(context.Background())
			if err != nil {
				t.Fatalf("Wait() error = %v, want nil", err)
			}
			if got != tt.decision {
				t.Fatalf("Wait() = %v, want %v", got, tt.decision)
			}
		})
	}
}

func TestSecondApproveFails(t *testing.T) {
	req := NewRequest("write_file", nil)

	if err := req.Approve(true); err != nil {
		t.Fatalf("first Approve() = %v, want nil", err)
	}
	if err := req.Approve(false); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Approve() = %v, want ErrAlreadyResolved", err)
	}

	// Original decision must survive the failed second call.
	approved, resolved := req.Decision()
	if !resolved || !approved {
		t.Fatalf("Decision() = (%v, %v), want (true, true)", approved, resolved)
	}
}

func TestConcurrentApproveExactlyOneWins(t *testing.T) {
	req := NewRequest("delegate_task", nil)

	const n = 16
	var wg sync.WaitGroup
	var okCount, errCount int
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			err := req.Approve(approve)
			mu.Lock()
			if err == nil {
				okCount++
			} else if errors.Is(err, ErrAlreadyResolved) {
				errCount++
			}
			mu.Unlock()
		}(i%2 == 0)
	}
	wg.Wait()

	if okCount != 1 {
		t.Fatalf("resolutions = %d, want exactly 1", okCount)
	}
	if errCount != n-1 {
		t.Fatalf("ErrAlreadyResolved count = %d, want %d", errCount, n-1)
	}
}

func TestWaitTimeoutLeavesRequestPending(t *testing.T) {
	req := NewRequest("run_code", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := req.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want DeadlineExceeded", err)
	}

	// A timed-out wait must not consume the one-shot: a hard cancel still
	// gets to reject it.
	if req.Resolved() {
		t.Fatal("request resolved after timeout, want still pending")
	}
	if err := req.Approve(false); err != nil {
		t.Fatalf("Approve() after timeout = %v, want nil", err)
	}
}

func TestWaitAfterResolutionReturnsImmediately(t *testing.T) {
	req := NewRequest("read_file", nil)
	if err := req.Approve(true); err != nil {
		t.Fatalf("Approve() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	got, err := req.Wait(ctx)
	if err != nil || !got {
		t.Fatalf("Wait() = (%v, %v), want (true, nil)", got, err)
	}
}
