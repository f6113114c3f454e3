package supervisor

import (
	"context"
	"errors"
	"testing"
)

// traceResource records start/stop calls into a shared trace.
type traceResource struct {
	name     string
	trace    *[]string
	startErr error
	stopErr  error
	stops    int
}

func (r *traceResource) Name() string { return r.name }

func (r *traceResource) Start(ctx context.Context) error {
	*r.trace = append(*r.trace, "start:"+r.name)
	return r.startErr
}

func (r *traceResource) Stop(ctx context.Context) error {
	r.stops++
	*r.trace = append(*r.trace, "stop:"+r.name)
	return r.stopErr
}

func TestStartOrderAndReverseStop(t *testing.T) {
	var trace []string
	a := &traceResource{name: "model", trace: &trace}
	b := &traceResource{name: "exec", trace: &trace}
	c := &traceResource{name: "tools", trace: &trace}

	sup := New(a, b, c)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}

	want := []string{"start:model", "start:exec", "start:tools", "stop:tools", "stop:exec", "stop:model"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q", i, trace[i], want[i])
		}
	}
}

func TestPartialStartRollsBack(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	a := &traceResource{name: "model", trace: &trace}
	b := &traceResource{name: "exec", trace: &trace, startErr: boom}
	c := &traceResource{name: "tools", trace: &trace}

	sup := New(a, b, c)
	err := sup.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start() = %v, want wrapped boom", err)
	}

	// Only the acquired prefix is rolled back, in reverse; c never starts.
	want := []string{"start:model", "start:exec", "stop:model"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q", i, trace[i], want[i])
		}
	}
	if c.stops != 0 {
		t.Fatalf("unstarted resource stopped %d times, want 0", c.stops)
	}
}

func TestStopIdempotent(t *testing.T) {
	var trace []string
	a := &traceResource{name: "model", trace: &trace}

	sup := New(a)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop() = %v, want nil", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() = %v, want nil", err)
	}
	if a.stops != 1 {
		t.Fatalf("resource stopped %d times, want 1", a.stops)
	}
}

func TestStopContinuesPastFailure(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	a := &traceResource{name: "model", trace: &trace}
	b := &traceResource{name: "exec", trace: &trace, stopErr: boom}

	sup := New(a, b)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	err := sup.Stop(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Stop() = %v, want wrapped boom", err)
	}
	if a.stops != 1 {
		t.Fatal("later resource not stopped after earlier stop failure")
	}
}

func TestStartAfterStopFails(t *testing.T) {
	sup := New()
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Start() after Stop = %v, want ErrNotStarted", err)
	}
}
