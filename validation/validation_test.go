package validation

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/postersafari/postr-engine/errors"
)

type sourceSettings struct {
	Kind string `mapstructure:"kind" validate:"required,oneof=memory couchdb sqlite"`
	URL  string `mapstructure:"url" validate:"omitempty,url"`
}

type settings struct {
	Name     string         `mapstructure:"name" validate:"required,ident"`
	MaxTasks int            `mapstructure:"max_tasks" validate:"gte=1"`
	Source   sourceSettings `mapstructure:"source"`
}

func TestValidate_Valid(t *testing.T) {
	s := settings{Name: "regex", MaxTasks: 2, Source: sourceSettings{Kind: "memory"}}
	if err := Validate(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ReportsConfigKeys(t *testing.T) {
	s := settings{Name: "Bad Name", MaxTasks: 0, Source: sourceSettings{Kind: "redis", URL: "::"}}
	err := Validate(s)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}

	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("expected field details, got %T", appErr.Details["fields"])
	}
	got := make(map[string]string)
	for _, f := range fields {
		got[f.Field] = f.Message
	}
	for _, key := range []string{"name", "max_tasks", "source.kind", "source.url"} {
		if _, ok := got[key]; !ok {
			t.Errorf("expected error for %q, got %v", key, got)
		}
	}
	if !strings.Contains(got["source.kind"], "memory couchdb sqlite") {
		t.Errorf("unexpected oneof message %q", got["source.kind"])
	}
	if got["name"] != "must be a lower-case identifier" {
		t.Errorf("unexpected ident message %q", got["name"])
	}
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"MaxInFlight": "max_in_flight",
		"ID":          "i_d",
		"name":        "name",
	}
	for in, want := range cases {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
