package deps

import (
	"fmt"
	"sync"
	"testing"
)

func TestAttachDetachLifecycle(t *testing.T) {
	tr := NewTracker()

	if !tr.CanDelete("tool_1") {
		t.Fatal("unknown tool must be deletable")
	}

	tr.Attach("agent_a", "tool_1")
	tr.Attach("agent_b", "tool_1")
	tr.Attach("agent_a", "tool_1") // idempotent

	if tr.Count("tool_1") != 2 {
		t.Fatalf("expected 2 dependents, got %d", tr.Count("tool_1"))
	}
	if tr.CanDelete("tool_1") {
		t.Fatal("tool with dependents must not be deletable")
	}

	got := tr.DependentsOf("tool_1")
	if len(got) != 2 || got[0] != "agent_a" || got[1] != "agent_b" {
		t.Fatalf("unexpected dependents: %v", got)
	}

	tr.Detach("agent_a", "tool_1")
	tr.Detach("agent_b", "tool_1")
	tr.Detach("agent_c", "tool_1") // absent edge is a no-op

	if !tr.CanDelete("tool_1") {
		t.Fatal("tool with all edges removed must be deletable")
	}
}

func TestForget(t *testing.T) {
	tr := NewTracker()
	tr.Attach("agent_a", "tool_1")
	tr.Forget("tool_1")
	if tr.Count("tool_1") != 0 {
		t.Fatal("expected no edges after Forget")
	}
}

func TestConcurrentAttachDetach(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := fmt.Sprintf("agent_%d", i)
			tool := fmt.Sprintf("tool_%d", i%5)
			tr.Attach(agent, tool)
			_ = tr.DependentsOf(tool)
			tr.Detach(agent, tool)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		tool := fmt.Sprintf("tool_%d", i)
		if !tr.CanDelete(tool) {
			t.Fatalf("%s: expected empty dependent set, got %v", tool, tr.DependentsOf(tool))
		}
	}
}
