package scope

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Scope
		wantErr bool
	}{
		{raw: "contacts:read", want: Scope{Namespace: Contacts, Operation: Read}},
		{raw: "deals:write", want: Scope{Namespace: Deals, Operation: Write}},
		{raw: "keys:write", want: Scope{Namespace: Keys, Operation: Write}},
		{raw: "contacts", wantErr: true},
		{raw: "contacts:admin", wantErr: true},
		{raw: "invoices:read", wantErr: true},
		{raw: ":read", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "Contacts:read", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseListRejectsDuplicates(t *testing.T) {
	if _, err := ParseList([]string{"contacts:read", "contacts:read"}); err == nil {
		t.Error("duplicate scope accepted")
	}
	set, err := ParseList([]string{"contacts:read", "contacts:write"})
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 {
		t.Errorf("len = %d, want 2", len(set))
	}
}

func TestSubset(t *testing.T) {
	granted, _ := ParseList([]string{"contacts:read", "contacts:write", "deals:read"})

	sub, _ := ParseList([]string{"contacts:read", "deals:read"})
	if !sub.Subset(granted) {
		t.Error("subset not recognized")
	}

	over, _ := ParseList([]string{"contacts:read", "deals:write"})
	if over.Subset(granted) {
		t.Error("deals:write is not granted; Subset must be false")
	}

	if !(Set{}).Subset(granted) {
		t.Error("empty set is a subset of anything")
	}
}

func TestSpaceJoinedRoundTrip(t *testing.T) {
	set, _ := ParseList([]string{"contacts:read", "tasks:write"})
	joined := set.SpaceJoined()
	if joined != "contacts:read tasks:write" {
		t.Fatalf("SpaceJoined = %q", joined)
	}

	back, err := ParseSpaceJoined(joined)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Subset(set) || !set.Subset(back) {
		t.Errorf("round trip mismatch: %v vs %v", back, set)
	}

	empty, err := ParseSpaceJoined("   ")
	if err != nil || len(empty) != 0 {
		t.Errorf("blank string should parse to an empty set, got %v, %v", empty, err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	set, _ := ParseList([]string{"notes:read", "notes:write"})
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["notes:read","notes:write"]` {
		t.Fatalf("marshal = %s", data)
	}

	var back Set
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Has(Scope{Namespace: Notes, Operation: Write}) {
		t.Error("unmarshaled set lost notes:write")
	}

	if err := json.Unmarshal([]byte(`["bogus:read"]`), &back); err == nil {
		t.Error("unknown namespace survived unmarshal")
	}
}
