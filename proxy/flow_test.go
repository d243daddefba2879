package proxy

import "testing"

func TestConnectionFlowRunsApplicableStepsInOrder(t *testing.T) {
	var order []string
	flow := NewConnectionFlow(
		Step{Name: "a", Execute: func() error { order = append(order, "a"); return nil }},
		Step{Name: "b", Applies: func() bool { return false }, Execute: func() error { order = append(order, "b"); return nil }},
		Step{Name: "c", Execute: func() error { order = append(order, "c"); return nil }},
	)

	forward, err := flow.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !forward {
		t.Fatal("expected forwardInitialRequest true")
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("unexpected step order: %v", order)
	}
}

func TestConnectionFlowSuppressesInitialRequest(t *testing.T) {
	flow := NewConnectionFlow(
		Step{Name: "connect", SuppressInitialRequest: true, Execute: func() error { return nil }},
	)
	forward, err := flow.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forward {
		t.Fatal("expected forwardInitialRequest false")
	}
}

func TestConnectionFlowStopsOnFailure(t *testing.T) {
	ran := false
	flow := NewConnectionFlow(
		Step{Name: "fails", Execute: func() error { return errBoom }},
		Step{Name: "never", Execute: func() error { ran = true; return nil }},
	)
	_, err := flow.Run()
	if err == nil {
		t.Fatal("expected error")
	}
	if ran {
		t.Fatal("subsequent step must not run after a failure")
	}
	if flow.LastStateBeforeFailure != "fails" {
		t.Fatalf("unexpected LastStateBeforeFailure: %q", flow.LastStateBeforeFailure)
	}
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
