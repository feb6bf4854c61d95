package step

import (
	"context"
	"strings"
	"sync"
	"testing"
)

// mockStep is a simple step for testing
type mockStep struct {
	name string
}

func (m *mockStep) Name() string {
	return m.name
}

func (m *mockStep) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	return Done("mock %s executed", m.name), nil
}

var registerPipeline sync.Once

func withPipeline(t *testing.T) {
	t.Helper()
	registerPipeline.Do(func() {
		for _, name := range Pipeline {
			Register(&mockStep{name: name})
		}
	})
}

func TestRegisterAndGet(t *testing.T) {
	// Use a unique name to avoid conflicts with other registered steps
	Register(&mockStep{name: "test_mock_step_unique"})

	got := Get("test_mock_step_unique")
	if got == nil {
		t.Fatal("expected to find registered step")
	}
	if got.Name() != "test_mock_step_unique" {
		t.Errorf("expected name 'test_mock_step_unique', got %q", got.Name())
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(&mockStep{name: "test_duplicate_step"})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register(&mockStep{name: "test_duplicate_step"})
}

func TestGetUnknown(t *testing.T) {
	got := Get("nonexistent_step_xyz")
	if got != nil {
		t.Errorf("expected nil for unknown step, got %v", got)
	}
}

func TestListPipelineOrder(t *testing.T) {
	withPipeline(t)

	names := List()
	if len(names) < 3 {
		t.Fatalf("expected at least 3 steps, got %v", names)
	}
	for i, want := range Pipeline {
		if names[i] != want {
			t.Errorf("position %d: expected %q, got %q", i, want, names[i])
		}
	}
}

func TestResolve(t *testing.T) {
	withPipeline(t)

	tests := []struct {
		selection string
		want      []string
		wantErr   string
	}{
		{selection: "execute,build", want: []string{"build", "execute"}},
		{selection: " Upload , upload ", want: []string{"upload"}},
		{selection: "build,deploy", wantErr: "invalid step(s): deploy"},
		{selection: ",", wantErr: "no steps selected"},
	}

	for _, tt := range tests {
		t.Run(tt.selection, func(t *testing.T) {
			steps, err := Resolve(tt.selection)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []string
			for _, s := range steps {
				got = append(got, s.Name())
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestResolveAll(t *testing.T) {
	withPipeline(t)

	for _, sel := range []string{"", "all", "ALL"} {
		steps, err := Resolve(sel)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", sel, err)
		}
		if len(steps) != len(List()) {
			t.Errorf("%q: expected every registered step, got %d", sel, len(steps))
		}
		if steps[0].Name() != "build" {
			t.Errorf("%q: expected build first, got %q", sel, steps[0].Name())
		}
	}
}

func TestDone(t *testing.T) {
	r := Done("%d files", 3)
	if r.Message != "3 files" {
		t.Errorf("expected message '3 files', got %q", r.Message)
	}
}
