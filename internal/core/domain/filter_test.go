package domain

import (
	"errors"
	"testing"
)

func TestFilterTemplateBindID(t *testing.T) {
	tmpl := FilterTemplate{Field: "id", Argument: "id"}
	f, err := tmpl.Bind("abc-123")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if f.Field != "id" || f.Value != "abc-123" {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if f.PayloadPath() != "" {
		t.Fatalf("id filter should have no payload path, got %q", f.PayloadPath())
	}
}

func TestFilterTemplateBindPayloadPath(t *testing.T) {
	tmpl := FilterTemplate{Field: "payload.farm_id", Argument: "farm"}
	f, err := tmpl.Bind("f1")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if f.PayloadPath() != "farm_id" {
		t.Fatalf("payload path: got %q", f.PayloadPath())
	}
}

func TestFilterTemplateRejectsStructuralValues(t *testing.T) {
	tmpl := FilterTemplate{Field: "id", Argument: "id"}
	for _, value := range []string{"", `a"} , {"x`, "a'b", "a\\b", "a b", "a\nb"} {
		if _, err := tmpl.Bind(value); !errors.Is(err, ErrInvalidTemplate) {
			t.Fatalf("value %q: expected ErrInvalidTemplate, got %v", value, err)
		}
	}
}

func TestFilterTemplateRejectsMalformedFields(t *testing.T) {
	bad := []FilterTemplate{
		{Field: "payload.", Argument: "id"},
		{Field: "payload.a b", Argument: "id"},
		{Field: "payload.a.\"b\"", Argument: "id"},
		{Field: "created_at", Argument: "id"},
		{Field: "id", Argument: ""},
	}
	for _, tmpl := range bad {
		if _, err := tmpl.Bind("x"); !errors.Is(err, ErrInvalidTemplate) {
			t.Fatalf("template %+v: expected ErrInvalidTemplate, got %v", tmpl, err)
		}
	}
}
