package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/conductorhq/core/internal/ledger"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/internal/toolgate"
	"github.com/conductorhq/core/pkg/models"
)

func newTestScheduler(t *testing.T, model platform.ModelAdapter) (*Scheduler, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	gate := toolgate.New(toolgate.NewRegistry(), st, toolgate.Config{})
	led := ledger.New(st, ledger.Config{Pricing: ledger.DefaultPricing()})
	s := New(st, st, model, nil, gate, led, nil, nil, Config{
		MaxToolIterations: 5,
		DailyTokenLimit:   7_000_000,
	})
	return s, st
}

func TestRunCycle_CompletesLeafTask(t *testing.T) {
	model := &platform.NullModelAdapter{ExecuteResult: platform.ExecuteResult{FinalText: "done with it"}}
	s, st := newTestScheduler(t, model)

	task := &models.Task{ID: "t1", Kind: models.TaskKindTask, Source: models.TaskSourceSelf, Title: "clean logs", Status: models.TaskPending}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	got, err := st.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}

	mem, err := st.GetMemory(context.Background(), lastCycleMemoryKey)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if mem.Value == "" {
		t.Fatalf("expected non-empty last_cycle memory")
	}
}

func TestRunCycle_DecomposesIntoChildren(t *testing.T) {
	payload, _ := json.Marshal(decomposition{
		Decompose: true,
		Subtasks: []subtaskProposal{
			{Title: "step one", Priority: 1},
			{Title: "step two", Priority: 0},
		},
	})
	model := &platform.NullModelAdapter{ExecuteResult: platform.ExecuteResult{FinalText: string(payload)}}
	s, st := newTestScheduler(t, model)

	task := &models.Task{ID: "goal-task", Kind: models.TaskKindTask, Source: models.TaskSourceMaster, Title: "ship feature", Status: models.TaskPending}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	got, err := st.GetTask(context.Background(), "goal-task")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskPending {
		t.Fatalf("parent status = %s, want still pending after decomposition", got.Status)
	}

	children, err := st.ChildTasks(context.Background(), "goal-task")
	if err != nil {
		t.Fatalf("ChildTasks: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
}

func TestRunCycle_CompletingLastChildCascadesToParent(t *testing.T) {
	model := &platform.NullModelAdapter{ExecuteResult: platform.ExecuteResult{FinalText: "child done"}}
	s, st := newTestScheduler(t, model)
	ctx := context.Background()

	parent := &models.Task{ID: "parent", Kind: models.TaskKindTask, Source: models.TaskSourceSelf, Title: "parent", Status: models.TaskActive}
	if err := st.CreateTask(ctx, parent); err != nil {
		t.Fatalf("CreateTask parent: %v", err)
	}
	doneChild := &models.Task{ID: "child-done", ParentID: "parent", Source: models.TaskSourceSelf, Title: "already done", Status: models.TaskCompleted}
	if err := st.CreateTask(ctx, doneChild); err != nil {
		t.Fatalf("CreateTask done child: %v", err)
	}
	lastChild := &models.Task{ID: "child-last", ParentID: "parent", Source: models.TaskSourceSelf, Title: "last one", Status: models.TaskPending}
	if err := st.CreateTask(ctx, lastChild); err != nil {
		t.Fatalf("CreateTask last child: %v", err)
	}

	if err := s.runCycle(ctx); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	gotChild, err := st.GetTask(ctx, "child-last")
	if err != nil {
		t.Fatalf("GetTask child: %v", err)
	}
	if gotChild.Status != models.TaskCompleted {
		t.Fatalf("child status = %s, want completed", gotChild.Status)
	}

	gotParent, err := st.GetTask(ctx, "parent")
	if err != nil {
		t.Fatalf("GetTask parent: %v", err)
	}
	if gotParent.Status != models.TaskCompleted {
		t.Fatalf("parent status = %s, want completed after last child finished", gotParent.Status)
	}
}

func TestRunCycle_NoPendingTaskIsANoop(t *testing.T) {
	model := &platform.NullModelAdapter{}
	s, _ := newTestScheduler(t, model)
	if err := s.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle on empty backlog: %v", err)
	}
}

func TestSleepForRatio_FollowsBudgetTable(t *testing.T) {
	cfg := Config{MinInterval: time.Second, MaxInterval: time.Hour}
	cases := []struct {
		ratio float64
		want  time.Duration
	}{
		{0.1, time.Minute},
		{0.3, 5 * time.Minute},
		{0.6, 15 * time.Minute},
		{0.9, time.Hour},
	}
	for _, c := range cases {
		got := sleepForRatio(c.ratio, cfg)
		// sleepForRatio applies up to 10% positive jitter on top of the
		// bracket's base duration, so assert a range rather than equality.
		if got < c.want || got > c.want+c.want/10 {
			t.Errorf("sleepForRatio(%v) = %v, want within [%v, %v]", c.ratio, got, c.want, c.want+c.want/10)
		}
	}
}

func TestSleepForRatio_AtOrAboveOneSleepsUntilMidnight(t *testing.T) {
	got := sleepForRatio(1.2, Config{MinInterval: time.Second, MaxInterval: time.Hour})
	if got <= 0 || got > 24*time.Hour {
		t.Fatalf("sleepForRatio(1.2) = %v, want a positive duration under 24h", got)
	}
}

func TestNoopLocker_AlwaysAcquires(t *testing.T) {
	var l NoopLocker
	ok, err := l.TryAcquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v, want true, nil", ok, err)
	}
	if err := l.Renew(context.Background()); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
