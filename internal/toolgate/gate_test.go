package toolgate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/pkg/models"
)

func echoTool(name string, tier models.SafetyTier, autoApprove AutoApprovePredicate) *Tool {
	return &Tool{
		Name: name,
		Tier: tier,
		Exec: func(ctx context.Context, input json.RawMessage) (string, error) {
			return "ok:" + string(input), nil
		},
		AutoApprove: autoApprove,
	}
}

func TestInvoke_SafeToolRunsImmediately(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("read", models.TierSafe, nil))
	g := New(reg, memstore.New(), Config{})

	res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "read", Input: json.RawMessage(`{}`)}, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
}

func TestInvoke_ForbiddenToolNeverRuns(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(&Tool{
		Name: "shutdown",
		Tier: models.TierForbidden,
		Exec: func(ctx context.Context, input json.RawMessage) (string, error) {
			ran = true
			return "", nil
		},
	})
	g := New(reg, memstore.New(), Config{})

	res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "shutdown"}, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result for forbidden tool")
	}
	if ran {
		t.Fatalf("forbidden tool must never execute")
	}
}

func TestInvoke_GatedAutoApprovePredicatePasses(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("http_get", models.TierGated, func(input json.RawMessage) bool { return true }))
	g := New(reg, memstore.New(), Config{})

	res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "http_get"}, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
}

// idCapturingApprovals wraps memstore to hand the generated ToolApproval id
// back to the test, the way the Approval Coordinator's callback handler
// would learn it from the outbound control message's tag instead.
type idCapturingApprovals struct {
	*memstore.Store
	created chan string
}

func (w *idCapturingApprovals) CreateToolApproval(ctx context.Context, ta *models.ToolApproval) error {
	if err := w.Store.CreateToolApproval(ctx, ta); err != nil {
		return err
	}
	w.created <- ta.ID
	return nil
}

func TestInvoke_GatedWaitsThenApproves(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("exec", models.TierGated, nil))
	st := &idCapturingApprovals{Store: memstore.New(), created: make(chan string, 1)}
	g := New(reg, st, Config{PollInterval: 10 * time.Millisecond, Timeout: time.Minute})

	resultCh := make(chan models.ToolResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "exec"}, "do a thing")
		resultCh <- res
		errCh <- err
	}()

	id := <-st.created
	if _, err := st.ResolveToolApproval(context.Background(), id, models.ToolApprovalApproved); err != nil {
		t.Fatalf("ResolveToolApproval: %v", err)
	}

	res := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
}

func TestInvoke_GatedExpires(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("exec", models.TierGated, nil))
	st := memstore.New()
	g := New(reg, st, Config{PollInterval: 5 * time.Millisecond, Timeout: 10 * time.Millisecond})

	res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "exec"}, "")
	if err != ErrToolApprovalExpired {
		t.Fatalf("err = %v, want ErrToolApprovalExpired", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result on expiry")
	}
}

// TestInvoke_GatedWakesEarlyOnRedisPublish sets PollInterval far longer than
// the test's own timeout, so the only way Invoke can return in time is via
// the Redis wake channel rather than the next poll tick.
func TestInvoke_GatedWakesEarlyOnRedisPublish(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	reg := NewRegistry()
	reg.Register(echoTool("exec", models.TierGated, nil))
	st := &idCapturingApprovals{Store: memstore.New(), created: make(chan string, 1)}
	g := New(reg, st, Config{
		PollInterval: time.Minute,
		Timeout:      time.Minute,
		Redis:        rdb,
		WakeChannel:  "test:approval:wake",
	})

	resultCh := make(chan models.ToolResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := g.Invoke(context.Background(), models.ToolCall{ID: "1", Name: "exec"}, "do a thing")
		resultCh <- res
		errCh <- err
	}()

	id := <-st.created
	if _, err := st.ResolveToolApproval(context.Background(), id, models.ToolApprovalApproved); err != nil {
		t.Fatalf("ResolveToolApproval: %v", err)
	}

	// Give runGated's Subscribe call time to register before publishing;
	// a publish with no subscriber yet would otherwise be lost.
	time.Sleep(50 * time.Millisecond)
	if err := rdb.Publish(context.Background(), "test:approval:wake", id).Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case res := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected error result: %s", res.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not wake on redis publish; PollInterval alone would take a minute")
	}
}

func TestShellSafety_BlocksDenylistedLiterals(t *testing.T) {
	s := NewShellSafety(nil)
	if !s.IsDangerous("rm -rf /home/user") {
		t.Fatal("expected rm -rf to be dangerous")
	}
	if s.IsDangerous("ls -la") {
		t.Fatal("expected ls -la to be safe")
	}
}

func TestIsSensitivePath_ResolvesTraversal(t *testing.T) {
	if !IsSensitivePath("a/../../etc/shadow") {
		t.Fatal("expected traversal into /etc/shadow to be sensitive")
	}
	if IsSensitivePath("/home/user/notes.txt") {
		t.Fatal("expected ordinary path to be safe")
	}
}
