package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/quorvex/scribe/internal/sanitize"
)

func TestUpsertRuleBumpsVersion(t *testing.T) {
	e := newTestEngine(t)

	before, err := e.LoadRules()
	if err != nil {
		t.Fatalf("LoadRules error: %v", err)
	}

	err = e.UpsertRule(sanitize.Rule{
		Name:        "ticket_id",
		Pattern:     `\bTICKET-\d+\b`,
		Replacement: "[TICKET]",
		Category:    sanitize.CategoryCustom,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("UpsertRule error: %v", err)
	}

	after, err := e.LoadRules()
	if err != nil {
		t.Fatalf("LoadRules error: %v", err)
	}
	if after.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, before.Version+1)
	}
	if len(after.Rules) != len(before.Rules)+1 {
		t.Errorf("rules = %d, want %d", len(after.Rules), len(before.Rules)+1)
	}
}

func TestReloadGatePicksUpNewRule(t *testing.T) {
	e := newTestEngine(t)

	err := e.UpsertRule(sanitize.Rule{
		Name:        "ticket_id",
		Pattern:     `\bTICKET-\d+\b`,
		Replacement: "[TICKET]",
		Category:    sanitize.CategoryCustom,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("UpsertRule error: %v", err)
	}
	if err := e.ReloadGate(); err != nil {
		t.Fatalf("ReloadGate error: %v", err)
	}

	id, _, err := e.AppendEvent("s1", KindUserInput, "", "see TICKET-4521 for details", nil)
	if err != nil {
		t.Fatalf("AppendEvent error: %v", err)
	}
	ev, err := e.EventByID(id)
	if err != nil {
		t.Fatalf("EventByID error: %v", err)
	}
	if !strings.Contains(ev.Content, "[TICKET]") {
		t.Errorf("content = %q, want ticket redacted", ev.Content)
	}
}

func TestSetRuleActive(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SetRuleActive("email", false); err != nil {
		t.Fatalf("SetRuleActive error: %v", err)
	}
	if err := e.ReloadGate(); err != nil {
		t.Fatalf("ReloadGate error: %v", err)
	}

	id, _, err := e.AppendEvent("s1", KindUserInput, "", "mail bob@example.com", nil)
	if err != nil {
		t.Fatalf("AppendEvent error: %v", err)
	}
	ev, err := e.EventByID(id)
	if err != nil {
		t.Fatalf("EventByID error: %v", err)
	}
	if !strings.Contains(ev.Content, "bob@example.com") {
		t.Errorf("disabled rule still redacted: %q", ev.Content)
	}

	if err := e.SetRuleActive("no_such_rule", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReloadGateConcurrentAppend(t *testing.T) {
	e := newTestEngine(t)

	errs := make(chan error, 64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := e.ReloadGate(); err != nil {
				errs <- fmt.Errorf("ReloadGate: %w", err)
				return
			}
		}
	}()

	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				content := fmt.Sprintf("writer %d message %d to alice@example.com", w, i)
				if _, _, err := e.AppendEvent("s1", KindUserInput, "", content, nil); err != nil {
					errs <- fmt.Errorf("AppendEvent: %w", err)
					return
				}
				if e.Gate() == nil {
					errs <- fmt.Errorf("writer %d: nil gate", w)
					return
				}
			}
		}(w)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent gate use: %v", err)
	}
}
