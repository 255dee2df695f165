package metadata

import (
	"testing"

	"github.com/google/uuid"
)

func fieldErr(errs []FieldError, field string) (FieldError, bool) {
	for _, e := range errs {
		if e.Field == field {
			return e, true
		}
	}
	return FieldError{}, false
}

func TestValidateCreate(t *testing.T) {
	deals, _ := Lookup("deals")

	tests := []struct {
		name      string
		fields    map[string]any
		badFields []string
	}{
		{
			name: "valid",
			fields: map[string]any{
				"name":       "Enterprise renewal",
				"amount":     float64(125000),
				"stage":      "negotiation",
				"close_date": "2026-09-30T00:00:00Z",
				"account_id": uuid.NewString(),
			},
		},
		{
			name:      "missing required name",
			fields:    map[string]any{"amount": float64(10)},
			badFields: []string{"name"},
		},
		{
			name:      "empty required name",
			fields:    map[string]any{"name": ""},
			badFields: []string{"name"},
		},
		{
			name:      "unknown field",
			fields:    map[string]any{"name": "x", "color": "red"},
			badFields: []string{"color"},
		},
		{
			name:      "wrong types",
			fields:    map[string]any{"name": 7, "amount": "lots"},
			badFields: []string{"name", "amount"},
		},
		{
			name:      "enum out of range",
			fields:    map[string]any{"name": "x", "stage": "imaginary"},
			badFields: []string{"stage"},
		},
		{
			name:      "bad timestamp",
			fields:    map[string]any{"name": "x", "close_date": "tomorrow"},
			badFields: []string{"close_date"},
		},
		{
			name:      "bad relation id",
			fields:    map[string]any{"name": "x", "account_id": "not-a-uuid"},
			badFields: []string{"account_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(deals, tt.fields, false)
			if len(tt.badFields) == 0 {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) != len(tt.badFields) {
				t.Fatalf("got %d errors %v, want %d", len(errs), errs, len(tt.badFields))
			}
			for _, f := range tt.badFields {
				if _, ok := fieldErr(errs, f); !ok {
					t.Errorf("no error reported for field %q", f)
				}
			}
		})
	}
}

func TestValidatePartialSkipsMissingRequired(t *testing.T) {
	tasks, _ := Lookup("tasks")

	// An update that touches only priority must not complain about title.
	errs := Validate(tasks, map[string]any{"priority": "high"}, true)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	// But nulling out a required field is still rejected.
	errs = Validate(tasks, map[string]any{"title": nil}, true)
	if _, ok := fieldErr(errs, "title"); !ok {
		t.Error("null required field accepted on update")
	}
}

func TestValidateBooleanAndNumber(t *testing.T) {
	tasks, _ := Lookup("tasks")

	errs := Validate(tasks, map[string]any{"completed": "yes"}, true)
	if _, ok := fieldErr(errs, "completed"); !ok {
		t.Error("string accepted for boolean field")
	}

	errs = Validate(tasks, map[string]any{"completed": true}, true)
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestEntityHelpers(t *testing.T) {
	contacts, _ := Lookup("contacts")

	rel, ok := contacts.Relation("account")
	if !ok || rel.Name != "account_id" || rel.RelatedEntity != "accounts" {
		t.Errorf("Relation(account) = %+v, %v", rel, ok)
	}
	if _, ok := contacts.Relation("nonexistent"); ok {
		t.Error("unknown expand name resolved")
	}

	if got := contacts.Event("created"); got != "contact.created" {
		t.Errorf("Event = %q, want contact.created", got)
	}

	searchable := contacts.SearchableFields()
	want := map[string]bool{"first_name": true, "last_name": true, "email": true}
	if len(searchable) != len(want) {
		t.Fatalf("searchable = %v", searchable)
	}
	for _, f := range searchable {
		if !want[f] {
			t.Errorf("unexpected searchable field %q", f)
		}
	}

	if _, ok := Lookup("widgets"); ok {
		t.Error("unknown entity resolved")
	}
	if len(Entities()) != 7 {
		t.Errorf("Entities() len = %d, want 7", len(Entities()))
	}
}
