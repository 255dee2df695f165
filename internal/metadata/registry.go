package metadata

import (
	"github.com/crm-api-gateway/internal/scope"
)

// FieldType is the value type of an entity field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeEnum     FieldType = "enum"
	TypeID       FieldType = "id"
)

// Field describes one writable or server-assigned entity field.
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	ReadOnly   bool      `json:"read_only"`
	Searchable bool      `json:"searchable"`
	EnumValues []string  `json:"enum_values,omitempty"`

	// RelatedEntity/ExpandName describe an expandable relationship held in
	// this field (an id pointing at another entity).
	RelatedEntity string `json:"related_entity,omitempty"`
	ExpandName    string `json:"expand_name,omitempty"`
}

// Entity is the metadata for one exposed entity type.
type Entity struct {
	Name      string          `json:"name"`
	Singular  string          `json:"singular"`
	Namespace scope.Namespace `json:"scope_namespace"`
	Fields    []Field         `json:"fields"`
}

// Field returns the field definition by name.
func (e *Entity) Field(name string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// SearchableFields lists the names of the entity's searchable string fields.
func (e *Entity) SearchableFields() []string {
	var out []string
	for _, f := range e.Fields {
		if f.Searchable {
			out = append(out, f.Name)
		}
	}
	return out
}

// Relation resolves an expand name to its relationship field.
func (e *Entity) Relation(expandName string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].ExpandName == expandName {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Event returns the webhook event name for an action, e.g. "account.created".
func (e *Entity) Event(action string) string {
	return e.Singular + "." + action
}

var registry = map[string]*Entity{
	"accounts": {
		Name: "accounts", Singular: "account", Namespace: scope.Accounts,
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true, Searchable: true},
			{Name: "domain", Type: TypeString, Searchable: true},
			{Name: "industry", Type: TypeEnum, EnumValues: []string{"technology", "finance", "healthcare", "retail", "manufacturing", "other"}},
			{Name: "employee_count", Type: TypeNumber},
			{Name: "annual_revenue", Type: TypeNumber},
			{Name: "phone", Type: TypeString},
			{Name: "website", Type: TypeString},
			{Name: "description", Type: TypeString, Searchable: true},
			{Name: "owner_id", Type: TypeID},
		},
	},
	"contacts": {
		Name: "contacts", Singular: "contact", Namespace: scope.Contacts,
		Fields: []Field{
			{Name: "first_name", Type: TypeString, Required: true, Searchable: true},
			{Name: "last_name", Type: TypeString, Required: true, Searchable: true},
			{Name: "email", Type: TypeString, Searchable: true},
			{Name: "phone", Type: TypeString},
			{Name: "title", Type: TypeString},
			{Name: "account_id", Type: TypeID, RelatedEntity: "accounts", ExpandName: "account"},
			{Name: "owner_id", Type: TypeID},
		},
	},
	"deals": {
		Name: "deals", Singular: "deal", Namespace: scope.Deals,
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true, Searchable: true},
			{Name: "amount", Type: TypeNumber},
			{Name: "currency", Type: TypeString},
			{Name: "stage", Type: TypeEnum, EnumValues: []string{"prospecting", "qualification", "proposal", "negotiation", "closed_won", "closed_lost"}},
			{Name: "close_date", Type: TypeDatetime},
			{Name: "account_id", Type: TypeID, RelatedEntity: "accounts", ExpandName: "account"},
			{Name: "contact_id", Type: TypeID, RelatedEntity: "contacts", ExpandName: "contact"},
			{Name: "description", Type: TypeString, Searchable: true},
			{Name: "owner_id", Type: TypeID},
		},
	},
	"leads": {
		Name: "leads", Singular: "lead", Namespace: scope.Leads,
		Fields: []Field{
			{Name: "first_name", Type: TypeString, Required: true, Searchable: true},
			{Name: "last_name", Type: TypeString, Required: true, Searchable: true},
			{Name: "email", Type: TypeString, Searchable: true},
			{Name: "company", Type: TypeString, Searchable: true},
			{Name: "source", Type: TypeEnum, EnumValues: []string{"web", "referral", "event", "outbound", "other"}},
			{Name: "status", Type: TypeEnum, EnumValues: []string{"new", "working", "qualified", "disqualified"}},
			{Name: "owner_id", Type: TypeID},
		},
	},
	"tasks": {
		Name: "tasks", Singular: "task", Namespace: scope.Tasks,
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true, Searchable: true},
			{Name: "description", Type: TypeString, Searchable: true},
			{Name: "due_date", Type: TypeDatetime},
			{Name: "completed", Type: TypeBoolean},
			{Name: "priority", Type: TypeEnum, EnumValues: []string{"low", "normal", "high"}},
			{Name: "owner_id", Type: TypeID},
		},
	},
	"notes": {
		Name: "notes", Singular: "note", Namespace: scope.Notes,
		Fields: []Field{
			{Name: "body", Type: TypeString, Required: true, Searchable: true},
			{Name: "account_id", Type: TypeID, RelatedEntity: "accounts", ExpandName: "account"},
			{Name: "contact_id", Type: TypeID, RelatedEntity: "contacts", ExpandName: "contact"},
			{Name: "deal_id", Type: TypeID, RelatedEntity: "deals", ExpandName: "deal"},
			{Name: "owner_id", Type: TypeID},
		},
	},
	// Deal stages are a sub-entity of deals and share the deals scope namespace.
	"deal_stages": {
		Name: "deal_stages", Singular: "deal_stage", Namespace: scope.Deals,
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true, Searchable: true},
			{Name: "order", Type: TypeNumber},
			{Name: "probability", Type: TypeNumber},
		},
	},
}

var entityNames = []string{"accounts", "contacts", "deals", "leads", "tasks", "notes", "deal_stages"}

// Lookup returns the metadata for an entity name from the fixed allow-list.
func Lookup(entity string) (*Entity, bool) {
	e, ok := registry[entity]
	return e, ok
}

// Entities returns all registered entities in a stable order.
func Entities() []*Entity {
	out := make([]*Entity, 0, len(entityNames))
	for _, n := range entityNames {
		out = append(out, registry[n])
	}
	return out
}
