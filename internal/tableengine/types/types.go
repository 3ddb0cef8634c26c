// Package types holds the Table Engine's shared domain model: Space, Base,
// Table, Field, Record, View, and Collaborator, plus the derived
// DependencyEdge and OTDoc types used internally by DependencyGraph and
// OTChannel.
package types

import "time"

// AuditStamp is embedded in every top-level entity and carries its
// created/updated audit columns.
type AuditStamp struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
}

// Space is the top-level tenant container. Owns Bases; delete cascades.
type Space struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
	Deleted bool   `json:"deleted"`
	AuditStamp
}

// Base is a container of Tables owned by a Space. Deleting a Base drops its
// physical schema namespace.
type Base struct {
	ID      string `json:"id"`
	SpaceID string `json:"space_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	Deleted bool   `json:"deleted"`
	AuditStamp
}

// Table is a logical table owned by a Base, mirrored by a physical table
// named "<baseId>.<tableId>".
type Table struct {
	ID      string `json:"id"`
	BaseID  string `json:"base_id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
	Deleted bool   `json:"deleted"`
	AuditStamp
}

// PhysicalSchema returns the physical schema name a Table's backing SQL
// object lives in. The engine stores every Base's tables in one Postgres
// schema equal to the Base ID, with the table name equal to the Table ID,
// so "<baseId>.<tableId>" maps onto native schema-qualification instead of
// string concatenation.
func (t Table) PhysicalSchema() string {
	return t.BaseID
}

// PhysicalTableName returns the unqualified physical table name.
func (t Table) PhysicalTableName() string {
	return t.ID
}

// System columns present on every physical table.
const (
	ColID               = "__id"
	ColVersion          = "__version"
	ColCreatedTime      = "__created_time"
	ColLastModifiedTime = "__last_modified_time"
	ColCreatedBy        = "__created_by"
	ColLastModifiedBy   = "__last_modified_by"
)

// FieldType is the closed enum of logical field types.
type FieldType string

const (
	FieldShortText    FieldType = "shortText"
	FieldLongText     FieldType = "longText"
	FieldNumber       FieldType = "number"
	FieldSingleSelect FieldType = "singleSelect"
	FieldMultiSelect  FieldType = "multiSelect"
	FieldDate         FieldType = "date"
	FieldDateTime     FieldType = "dateTime"
	FieldCheckbox     FieldType = "checkbox"
	FieldLink         FieldType = "link"
	FieldFormula      FieldType = "formula"
	FieldRollup       FieldType = "rollup"
	FieldLookup       FieldType = "lookup"
	FieldCount        FieldType = "count"
	FieldAttachment   FieldType = "attachment"
	FieldRating       FieldType = "rating"
	FieldUser         FieldType = "user"
	FieldEmail        FieldType = "email"
	FieldPhone        FieldType = "phone"
	FieldURL          FieldType = "url"
	FieldAI           FieldType = "ai"
	FieldButton       FieldType = "button"
	FieldDuration     FieldType = "duration"
)

// IsComputed reports whether fields of this type are server-derived and
// therefore never directly written by clients.
func (t FieldType) IsComputed() bool {
	switch t {
	case FieldFormula, FieldRollup, FieldLookup, FieldCount:
		return true
	default:
		return false
	}
}

// IsVirtual reports whether a field of this type can supply a meaningful
// lookup title on its own (virtual means formula, rollup, lookup, or ai).
func (t FieldType) IsVirtual() bool {
	switch t {
	case FieldFormula, FieldRollup, FieldLookup, FieldAI:
		return true
	default:
		return false
	}
}

// Field is a typed column of a Table.
type Field struct {
	ID           string    `json:"id"`
	TableID      string    `json:"table_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Type         FieldType `json:"type"`
	DBFieldName  string    `json:"db_field_name"`
	DBFieldType  string    `json:"db_field_type"`
	Options      []byte    `json:"options"` // json.RawMessage, type-switched by Type
	Required     bool      `json:"required"`
	Unique       bool      `json:"unique"`
	IsPrimary    bool      `json:"is_primary"`
	Order        int64     `json:"order"`
	Deleted      bool      `json:"deleted"`
	AuditStamp
}

// Relationship is the Link field cardinality enum.
type Relationship string

const (
	RelOneOne   Relationship = "oneOne"
	RelOneMany  Relationship = "oneMany"
	RelManyOne  Relationship = "manyOne"
	RelManyMany Relationship = "manyMany"
)

// Reverse returns the relationship as seen from the other side of a
// symmetric Link pair (oneOne↔oneOne, oneMany↔manyOne, manyMany↔manyMany).
func (r Relationship) Reverse() Relationship {
	switch r {
	case RelOneMany:
		return RelManyOne
	case RelManyOne:
		return RelOneMany
	default:
		return r
	}
}

// LinkOptions is the Options sub-record for a Field of type "link".
type LinkOptions struct {
	ForeignTableID   string       `json:"foreignTableId"`
	Relationship     Relationship `json:"relationship"`
	LookupFieldID    string       `json:"lookupFieldId,omitempty"`
	FKHostTableName  string       `json:"fkHostTableName"`
	SelfKeyName      string       `json:"selfKeyName"`
	ForeignKeyName   string       `json:"foreignKeyName"`
	IsSymmetric      bool         `json:"isSymmetric"`
	SymmetricFieldID string       `json:"symmetricFieldId,omitempty"`
	AllowMultiple    bool         `json:"allowMultiple"`
}

// LinkCell is the cell value shape for a Link field: {id, title}.
type LinkCell struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Record is a row of a Table's physical table.
type Record struct {
	ID      string                 `json:"id"`
	TableID string                 `json:"table_id"`
	Data    map[string]interface{} `json:"data"` // keyed by field ID
	Version int64                  `json:"version"`
	Deleted bool                   `json:"deleted"`
	AuditStamp
}

// ViewType enumerates the supported View presentations.
type ViewType string

const (
	ViewGrid    ViewType = "grid"
	ViewKanban  ViewType = "kanban"
	ViewGallery ViewType = "gallery"
	ViewCalendar ViewType = "calendar"
)

// View is a saved presentation of a Table. Its grid/kanban/etc rendering
// is out of scope here; this type exists only for its persistence shape.
type View struct {
	ID         string   `json:"id"`
	TableID    string   `json:"table_id"`
	Name       string   `json:"name"`
	Type       ViewType `json:"type"`
	Filter     []byte   `json:"filter,omitempty"`
	Sort       []byte   `json:"sort,omitempty"`
	ColumnMeta []byte   `json:"column_meta,omitempty"`
	ShareID    string   `json:"share_id,omitempty"`
	Locked     bool     `json:"locked"`
	Deleted    bool     `json:"deleted"`
	AuditStamp
}

// ResourceType enumerates the resource kinds a Collaborator's role applies
// to, and that the external PermissionChecker is consulted about.
type ResourceType string

const (
	ResourceSpace ResourceType = "space"
	ResourceBase  ResourceType = "base"
	ResourceTable ResourceType = "table"
	ResourceField ResourceType = "field"
	ResourceView  ResourceType = "view"
)

// Action enumerates the permission actions the external collaborator
// evaluates.
type Action string

const (
	ActionRead              Action = "read"
	ActionUpdate            Action = "update"
	ActionDelete            Action = "delete"
	ActionCreate            Action = "create"
	ActionManageCollaborator Action = "manageCollaborator"
)

// Collaborator associates a principal with a role on a resource. Consumed
// by the external permission collaborator; the engine never infers
// permission from it directly.
type Collaborator struct {
	ID           string       `json:"id"`
	PrincipalID  string       `json:"principal_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Role         string       `json:"role"`
	AuditStamp
}

// DependencyEdge is a derived field→field dependency, never persisted as a
// first-class row — DependencyGraph recomputes and caches it per Table.
type DependencyEdge struct {
	FromFieldID string
	ToFieldID   string
}

// Attachment is the tuple stored inside an attachment-typed field value; the
// actual bytes are owned by an external object store addressed by Path.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Path     string `json:"path"`
}

// RecordCollection returns the OT collection name addressing a table's
// record documents: "rec_<tableId>".
func RecordCollection(tableID string) string {
	return "rec_" + tableID
}

// FieldSchemaCollection returns the sibling OT collection that field-schema
// changes travel on: "fld_<tableId>".
func FieldSchemaCollection(tableID string) string {
	return "fld_" + tableID
}

// OTDoc is a document's live state: (collection, docId, version, data).
// Version advances by one per submitted op-bundle.
type OTDoc struct {
	Collection string                 `json:"-"`
	DocID      string                 `json:"-"`
	Version    int64                  `json:"v"`
	Data       map[string]interface{} `json:"data"`
}

// Op is a single operational-transform operation on an OTDoc. Path always
// begins with "data" for record field edits.
type Op struct {
	Path []string    `json:"p"`
	OI   interface{} `json:"oi,omitempty"`
	OD   interface{} `json:"od,omitempty"`
}
