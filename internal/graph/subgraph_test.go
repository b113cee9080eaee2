package graph

import (
	"strings"
	"testing"
)

func TestInjectTimestampAddsArgument(t *testing.T) {
	query := `{getById(id: "abc") { name }}`

	stamped, err := injectTimestamp(query, "getById", 42)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if !strings.Contains(stamped, "at: 42") {
		t.Errorf("stamped query missing at argument:\n%s", stamped)
	}
	if !strings.Contains(stamped, `id: "abc"`) {
		t.Errorf("stamped query lost the original argument:\n%s", stamped)
	}
}

func TestInjectTimestampKeepsExplicitInstant(t *testing.T) {
	query := `{getById(id: "abc", at: 7) { name }}`

	stamped, err := injectTimestamp(query, "getById", 42)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if !strings.Contains(stamped, "at: 7") {
		t.Errorf("explicit instant was replaced:\n%s", stamped)
	}
	if strings.Contains(stamped, "42") {
		t.Errorf("stamped over an explicit instant:\n%s", stamped)
	}
}

func TestInjectTimestampLeavesOtherFieldsAlone(t *testing.T) {
	query := `{getById(id: "abc") { name coop { name } }}`

	stamped, err := injectTimestamp(query, "getById", 42)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if strings.Contains(stamped, "coop(") {
		t.Errorf("nested field gained an argument:\n%s", stamped)
	}
	if got := strings.Count(stamped, "at: 42"); got != 1 {
		t.Errorf("instant stamped %d times, want 1:\n%s", got, stamped)
	}
}

func TestInjectTimestampStampsNestedInvocations(t *testing.T) {
	query := `{getByFarm(id: "f1") { name farm { getByFarm { name } } }}`

	stamped, err := injectTimestamp(query, "getByFarm", 9)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got := strings.Count(stamped, "at: 9"); got != 2 {
		t.Errorf("instant stamped %d times, want 2:\n%s", got, stamped)
	}
}

func TestInjectTimestampRejectsMalformedQuery(t *testing.T) {
	if _, err := injectTimestamp(`{getById(id: `, "getById", 1); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
