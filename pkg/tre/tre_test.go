package tre

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	statuses []string
	updates  []StepUpdate
}

func (r *recorder) OnStatus(msg string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, msg)
	r.mu.Unlock()
}

func (r *recorder) OnStepsInit([]StepInfo) {}

func (r *recorder) OnStepUpdate(u StepUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func TestCheckFailsMissingStep(t *testing.T) {
	steps := []Step{
		{Name: "boot", Body: Find{Rule: DefaultRule("BOOT_COMPLETED")}},
		{Name: "home", Body: Find{Rule: DefaultRule("launcher ready")}},
	}
	rec := &recorder{}
	results, err := Check([]string{"sys: BOOT_COMPLETED"}, steps, WithObserver(rec))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Outcome != Pass || results[1].Outcome != Fail {
		t.Errorf("outcomes = %s, %s", results[0].Outcome, results[1].Outcome)
	}
	if results[1].Evidence != "[ended: pattern never seen]" {
		t.Errorf("evidence = %q", results[1].Evidence)
	}
	if Passed(results) {
		t.Error("Passed() = true")
	}
	if len(rec.updates) != 2 {
		t.Errorf("observer saw %d updates", len(rec.updates))
	}
}

func TestCheckExecutor(t *testing.T) {
	var got []Action
	exec := executorFunc(func(_ context.Context, a Action) (bool, string) {
		got = append(got, a)
		return true, "tapped"
	})
	steps, err := ParseRules([]byte(`
- name: tap home
  action: {type: tap, x: 10, y: 20}
- name: after
  find: {pattern: "home shown"}
`), true)
	if err != nil {
		t.Fatal(err)
	}

	results, err := Check([]string{"ui: home shown"}, steps, WithExecutor(exec))
	if err != nil {
		t.Fatal(err)
	}
	if !Passed(results) {
		t.Fatalf("results = %+v", results)
	}
	if len(got) != 1 || got[0].X != 10 || got[0].Y != 20 {
		t.Errorf("executor calls = %+v", got)
	}
	if results[0].Evidence != "tapped" {
		t.Errorf("evidence = %q", results[0].Evidence)
	}
}

type executorFunc func(context.Context, Action) (bool, string)

func (f executorFunc) Perform(ctx context.Context, a Action) (bool, string) { return f(ctx, a) }

func TestValidateRules(t *testing.T) {
	steps, err := ParseRules([]byte(`[{"name": "bad", "find": {"pattern": "("}}]`), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateRules(steps); err == nil {
		t.Error("expected validation error")
	}
	if _, err := ParseRules([]byte(`{not a list`), false); err == nil {
		t.Error("expected parse error")
	}
}

func TestRunAgainstTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("ECU1 APP1 CTX1: BOOT_COMPLETED\n"))
		time.Sleep(2 * time.Second)
	}()

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	os.WriteFile(rulesPath, []byte(`[{"name": "boot", "find": {"pattern": "BOOT_COMPLETED"}}]`), 0o644)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	port := ln.Addr().(*net.TCPAddr).Port
	results, err := Run(ctx, "127.0.0.1", port, rulesPath, WithSettle(0), WithTick(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !Passed(results) {
		t.Errorf("results = %+v", results)
	}
}

func TestRunConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	os.WriteFile(rulesPath, []byte(`[{"name": "boot", "find": {"pattern": "x"}}]`), 0o644)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Run(ctx, "127.0.0.1", port, rulesPath)
	if !errors.Is(err, ErrConnect) {
		t.Errorf("err = %v, want ErrConnect", err)
	}
}
