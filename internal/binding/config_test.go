package binding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// mockActuator records writes and update requests.
type mockActuator struct {
	mu       sync.Mutex
	writes   []string
	requests []string
	writeErr error
}

func (m *mockActuator) Write(_ context.Context, path, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, path+"="+value)
	return nil
}

func (m *mockActuator) RequestUpdate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, id)
}

// mockController records control calls.
type mockController struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockController) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockController) ClearCache()                { m.record("clear_cache") }
func (m *mockController) ClearCacheItem(id string)   { m.record("clear_item_cache:" + id) }
func (m *mockController) RefreshAll(context.Context) { m.record("refresh_all") }
func (m *mockController) RefreshItem(id string)      { m.record("refresh_item:" + id) }

func TestPushButtonExecute(t *testing.T) {
	c, err := Definition{Item: "bell", Kind: KindPushButton, Path: "29.B2/PIO.1", PressMS: 20}.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	button := c.(*PushButton)
	act := &mockActuator{}

	start := time.Now()
	if err := button.Execute(context.Background(), CommandOn, act); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if held := time.Since(start); held < 20*time.Millisecond {
		t.Errorf("button held %v, want at least 20ms", held)
	}

	if diff := cmp.Diff([]string{"29.B2/PIO.1=1", "29.B2/PIO.1=0"}, act.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bell"}, act.requests); diff != "" {
		t.Errorf("update requests mismatch (-want +got):\n%s", diff)
	}
}

func TestPushButtonReleasesWhenCancelled(t *testing.T) {
	c, _ := Definition{Item: "bell", Kind: KindPushButton, Path: "p", PressMS: 10_000}.Build()
	act := &mockActuator{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := c.(*PushButton).Execute(ctx, CommandOn, act); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff([]string{"p=1", "p=0"}, act.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestPushButtonErrors(t *testing.T) {
	c, _ := Definition{Item: "bell", Kind: KindPushButton, Path: "p"}.Build()
	button := c.(*PushButton)

	if err := button.Execute(context.Background(), CommandOff, &mockActuator{}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Execute(OFF) error = %v, want ErrInvalidCommand", err)
	}

	busErr := errors.New("bus down")
	act := &mockActuator{writeErr: busErr}
	if err := button.Execute(context.Background(), CommandOn, act); !errors.Is(err, busErr) {
		t.Errorf("Execute() error = %v, want wrapped bus error", err)
	}
	if len(act.requests) != 0 {
		t.Error("failed press must not request an update")
	}
}

func TestControlExecuteControl(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		cmd  Command
		want []string
	}{
		{"clear cache", Definition{Item: "c", Kind: KindControl, Action: ActionClearCache}, CommandOn, []string{"clear_cache"}},
		{"clear item cache", Definition{Item: "c", Kind: KindControl, Action: ActionClearItemCache, Target: "temp1"}, CommandOn, []string{"clear_item_cache:temp1"}},
		{"refresh all", Definition{Item: "c", Kind: KindControl, Action: ActionRefreshAll}, CommandOn, []string{"refresh_all"}},
		{"refresh item", Definition{Item: "c", Kind: KindControl, Action: ActionRefreshItem, Target: "temp2"}, CommandOn, []string{"refresh_item:temp2"}},
		{"off is ignored", Definition{Item: "c", Kind: KindControl, Action: ActionRefreshAll}, CommandOff, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := tc.def.Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			ctl := &mockController{}
			if err := c.(Controllable).ExecuteControl(context.Background(), ctl, tc.cmd); err != nil {
				t.Fatalf("ExecuteControl() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, ctl.calls); diff != "" {
				t.Errorf("controller calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestControlRejectsOtherCommands(t *testing.T) {
	c, _ := Definition{Item: "c", Kind: KindControl, Action: ActionClearCache}.Build()
	ctl := &mockController{}

	err := c.(Controllable).ExecuteControl(context.Background(), ctl, "42")
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ExecuteControl(42) error = %v, want ErrInvalidCommand", err)
	}
	if len(ctl.calls) != 0 {
		t.Errorf("controller called %v for rejected command", ctl.calls)
	}
}
