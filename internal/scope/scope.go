package scope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Namespace is the entity family a scope grants access to.
type Namespace string

const (
	Accounts Namespace = "accounts"
	Contacts Namespace = "contacts"
	Deals    Namespace = "deals"
	Leads    Namespace = "leads"
	Tasks    Namespace = "tasks"
	Notes    Namespace = "notes"
	Keys     Namespace = "keys"
	Webhooks Namespace = "webhooks"
	Apps     Namespace = "apps"
)

// Operation is the access level a scope grants.
type Operation string

const (
	Read  Operation = "read"
	Write Operation = "write"
)

var namespaces = map[Namespace]bool{
	Accounts: true,
	Contacts: true,
	Deals:    true,
	Leads:    true,
	Tasks:    true,
	Notes:    true,
	Keys:     true,
	Webhooks: true,
	Apps:     true,
}

// Scope is one capability grant of the form {namespace}:{operation}.
type Scope struct {
	Namespace Namespace
	Operation Operation
}

func (s Scope) String() string {
	return string(s.Namespace) + ":" + string(s.Operation)
}

// Parse converts a "namespace:operation" string into a Scope.
func Parse(raw string) (Scope, error) {
	ns, op, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, fmt.Errorf("scope %q must be of the form namespace:operation", raw)
	}
	if !namespaces[Namespace(ns)] {
		return Scope{}, fmt.Errorf("unknown scope namespace %q", ns)
	}
	if Operation(op) != Read && Operation(op) != Write {
		return Scope{}, fmt.Errorf("scope operation must be read or write, got %q", op)
	}
	return Scope{Namespace: Namespace(ns), Operation: Operation(op)}, nil
}

// ParseList converts scope strings into a Set, rejecting duplicates.
func ParseList(raw []string) (Set, error) {
	set := make(Set, 0, len(raw))
	for _, r := range raw {
		s, err := Parse(r)
		if err != nil {
			return nil, err
		}
		if set.Has(s) {
			return nil, fmt.Errorf("duplicate scope %q", r)
		}
		set = append(set, s)
	}
	return set, nil
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Set is an ordered collection of granted scopes.
type Set []Scope

// Has reports whether the exact scope is present.
func (set Set) Has(s Scope) bool {
	for _, g := range set {
		if g == s {
			return true
		}
	}
	return false
}

// Subset reports whether every scope in set is present in other.
func (set Set) Subset(other Set) bool {
	for _, s := range set {
		if !other.Has(s) {
			return false
		}
	}
	return true
}

func (set Set) Strings() []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = s.String()
	}
	return out
}

// SpaceJoined renders the set as an OAuth-style space-separated scope string.
func (set Set) SpaceJoined() string {
	return strings.Join(set.Strings(), " ")
}

// ParseSpaceJoined parses an OAuth-style space-separated scope string.
// An empty string yields an empty set.
func ParseSpaceJoined(raw string) (Set, error) {
	if strings.TrimSpace(raw) == "" {
		return Set{}, nil
	}
	return ParseList(strings.Fields(raw))
}
