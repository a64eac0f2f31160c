package tools

import (
	"context"
	"reflect"
	"testing"
)

func namedStub(name string) *stubTool {
	return &stubTool{name: name, fn: func(ctx context.Context, _ map[string]interface{}) *Result {
		return NewResult("ok")
	}}
}

func TestRegistryGroups(t *testing.T) {
	r := NewRegistry()
	r.Register(namedStub("read_file"), Meta{Class: ClassRead})
	r.Register(namedStub("delete_file"), Meta{Class: ClassSensitive})
	r.RegisterGroup("weather-skill", []Tool{namedStub("weather_now"), namedStub("weather_week")}, Meta{Class: ClassRead})

	want := []string{"read_file", "delete_file", "weather_now", "weather_week"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	// Re-registering a group replaces its tools.
	r.RegisterGroup("weather-skill", []Tool{namedStub("weather_today")}, Meta{Class: ClassRead})
	if _, _, ok := r.Get("weather_now"); ok {
		t.Error("old group tool survived re-registration")
	}
	if _, _, ok := r.Get("weather_today"); !ok {
		t.Error("new group tool missing")
	}

	r.RemoveGroup("weather-skill")
	want = []string{"read_file", "delete_file"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names after RemoveGroup = %v, want %v", got, want)
	}
}

func TestRegistryRemoveGroupKeepsBuiltins(t *testing.T) {
	r := NewRegistry()
	r.Register(namedStub("read_file"), Meta{Class: ClassRead})
	r.RemoveGroup("") // builtin group name is reserved
	if _, _, ok := r.Get("read_file"); !ok {
		t.Error("RemoveGroup(\"\") dropped a builtin tool")
	}
}

func TestRegistrySensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(namedStub("write_file"), Meta{Class: ClassSensitive})
	r.Register(namedStub("read_file"), Meta{Class: ClassRead})
	r.Register(namedStub("delete_file"), Meta{Class: ClassSensitive})

	want := []string{"delete_file", "write_file"}
	if got := r.Sensitive(); !reflect.DeepEqual(got, want) {
		t.Errorf("Sensitive = %v, want %v (sorted)", got, want)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(namedStub("alpha"), Meta{Class: ClassRead})
	r.Register(namedStub("beta"), Meta{Class: ClassRead})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("definition type = %q, want function", d.Type)
		}
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "beta" {
		t.Errorf("definitions out of registration order: %s, %s",
			defs[0].Function.Name, defs[1].Function.Name)
	}
}

func TestRegistryOverwriteKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(namedStub("a"), Meta{Class: ClassRead})
	r.Register(namedStub("b"), Meta{Class: ClassRead})
	r.Register(namedStub("a"), Meta{Class: ClassWrite}) // same name, new meta

	want := []string{"a", "b"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if _, meta, _ := r.Get("a"); meta.Class != ClassWrite {
		t.Errorf("re-registration did not update meta, class = %s", meta.Class)
	}
}
