// Package field implements C2 FieldRegistry: Field metadata CRUD, option
// (de)serialization, name-uniqueness enforcement, order assignment, and the
// pre_save/persist/post_save lifecycle hook pipeline.
package field

import (
	"encoding/json"
	"fmt"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// CommonOptions holds the configuration keys recognized across every field
// type.
type CommonOptions struct {
	DefaultValue interface{} `json:"defaultValue,omitempty"`
	ShowAs       string      `json:"showAs,omitempty"`
	Formatting   string      `json:"formatting,omitempty"`
}

// Options is the tagged-union interface every field-type-specific option
// struct implements. A Field's Options JSON column round-trips through
// Marshal/type-switch rather than a generic map, so each concrete type gets
// compile-time-checked fields.
type Options interface {
	fieldOptionsMarker()
}

// NumberOptions configures a "number" field.
type NumberOptions struct {
	CommonOptions
	Precision int      `json:"precision,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

func (NumberOptions) fieldOptionsMarker() {}

// SingleSelectOptions configures a "singleSelect" field.
type SingleSelectOptions struct {
	CommonOptions
	Choices []SelectChoice `json:"choices"`
}

func (SingleSelectOptions) fieldOptionsMarker() {}

// MultiSelectOptions configures a "multiSelect" field.
type MultiSelectOptions struct {
	CommonOptions
	Choices []SelectChoice `json:"choices"`
}

func (MultiSelectOptions) fieldOptionsMarker() {}

// SelectChoice is one option of a single/multi-select field.
type SelectChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// DateOptions configures "date"/"dateTime" fields.
type DateOptions struct {
	CommonOptions
	DateFormat string `json:"dateFormat,omitempty"`
	TimeFormat string `json:"timeFormat,omitempty"`
	IncludeTime bool  `json:"includeTime,omitempty"`
}

func (DateOptions) fieldOptionsMarker() {}

// CheckboxOptions configures a "checkbox" field.
type CheckboxOptions struct {
	CommonOptions
	Icon string `json:"icon,omitempty"`
}

func (CheckboxOptions) fieldOptionsMarker() {}

// RatingOptions configures a "rating" field.
type RatingOptions struct {
	CommonOptions
	Max  int    `json:"max"`
	Icon string `json:"icon,omitempty"`
}

func (RatingOptions) fieldOptionsMarker() {}

// LinkFieldOptions is the field.Options form of types.LinkOptions — same
// wire shape, distinct Go type so it can implement the Options marker
// without tangling the shared types package into field-builder machinery.
type LinkFieldOptions struct {
	CommonOptions
	types.LinkOptions
}

func (LinkFieldOptions) fieldOptionsMarker() {}

// FormulaOptions configures a "formula" field.
type FormulaOptions struct {
	CommonOptions
	Expression string `json:"expression"`
	ResultType string `json:"resultType,omitempty"`
}

func (FormulaOptions) fieldOptionsMarker() {}

// RollupOptions configures a "rollup" field.
type RollupOptions struct {
	CommonOptions
	LinkFieldID string `json:"linkFieldId"`
	FieldID     string `json:"rollupFieldId"`
	Aggregation string `json:"aggregationFunction"` // sum, avg, min, max, count, ...
}

func (RollupOptions) fieldOptionsMarker() {}

// LookupOptions configures a "lookup" field.
type LookupOptions struct {
	CommonOptions
	LinkFieldID string `json:"linkFieldId"`
	FieldID     string `json:"lookupFieldId"`
}

func (LookupOptions) fieldOptionsMarker() {}

// CountOptions configures a "count" field.
type CountOptions struct {
	CommonOptions
	LinkFieldID string `json:"linkFieldId"`
}

func (CountOptions) fieldOptionsMarker() {}

// AttachmentOptions configures an "attachment" field.
type AttachmentOptions struct {
	CommonOptions
	MaxFiles int `json:"maxFiles,omitempty"`
}

func (AttachmentOptions) fieldOptionsMarker() {}

// UserOptions configures a "user" field.
type UserOptions struct {
	CommonOptions
	AllowMultiple bool `json:"allowMultiple,omitempty"`
}

func (UserOptions) fieldOptionsMarker() {}

// TextOptions configures shortText/longText/email/phone/url fields, none of
// which carry type-specific keys beyond the common ones.
type TextOptions struct {
	CommonOptions
}

func (TextOptions) fieldOptionsMarker() {}

// AIOptions configures an "ai" field.
type AIOptions struct {
	CommonOptions
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

func (AIOptions) fieldOptionsMarker() {}

// ButtonOptions configures a "button" field.
type ButtonOptions struct {
	CommonOptions
	Label  string `json:"label"`
	Action string `json:"action"`
}

func (ButtonOptions) fieldOptionsMarker() {}

// DurationOptions configures a "duration" field.
type DurationOptions struct {
	CommonOptions
	Format string `json:"format,omitempty"` // e.g. "h:mm", "h:mm:ss"
}

func (DurationOptions) fieldOptionsMarker() {}

// UnmarshalOptions decodes raw into the concrete Options struct matching
// fieldType, the boundary the registry normalizes inbound JSON at.
// Unknown/empty raw is treated as an empty struct of the right type.
func UnmarshalOptions(fieldType types.FieldType, raw []byte) (Options, error) {
	opts, err := newOptions(fieldType)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return derefOptions(opts), nil
	}
	if err := json.Unmarshal(raw, opts); err != nil {
		return nil, fmt.Errorf("field: unmarshal %s options: %w", fieldType, err)
	}
	return derefOptions(opts), nil
}

// MarshalOptions encodes an Options value back to JSON for persistence.
func MarshalOptions(opts Options) ([]byte, error) {
	if opts == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(opts)
}

func newOptions(fieldType types.FieldType) (Options, error) {
	switch fieldType {
	case types.FieldShortText, types.FieldLongText, types.FieldEmail, types.FieldPhone, types.FieldURL:
		return &TextOptions{}, nil
	case types.FieldNumber:
		return &NumberOptions{}, nil
	case types.FieldSingleSelect:
		return &SingleSelectOptions{}, nil
	case types.FieldMultiSelect:
		return &MultiSelectOptions{}, nil
	case types.FieldDate, types.FieldDateTime:
		return &DateOptions{}, nil
	case types.FieldCheckbox:
		return &CheckboxOptions{}, nil
	case types.FieldRating:
		return &RatingOptions{}, nil
	case types.FieldLink:
		return &LinkFieldOptions{}, nil
	case types.FieldFormula:
		return &FormulaOptions{}, nil
	case types.FieldRollup:
		return &RollupOptions{}, nil
	case types.FieldLookup:
		return &LookupOptions{}, nil
	case types.FieldCount:
		return &CountOptions{}, nil
	case types.FieldAttachment:
		return &AttachmentOptions{}, nil
	case types.FieldUser:
		return &UserOptions{}, nil
	case types.FieldAI:
		return &AIOptions{}, nil
	case types.FieldButton:
		return &ButtonOptions{}, nil
	case types.FieldDuration:
		return &DurationOptions{}, nil
	default:
		return nil, fmt.Errorf("field: unknown field type %q", fieldType)
	}
}

// derefOptions dereferences the pointer newOptions allocated, returning the
// value form so callers compare/store Options by value.
func derefOptions(opts Options) Options {
	switch v := opts.(type) {
	case *TextOptions:
		return *v
	case *NumberOptions:
		return *v
	case *SingleSelectOptions:
		return *v
	case *MultiSelectOptions:
		return *v
	case *DateOptions:
		return *v
	case *CheckboxOptions:
		return *v
	case *RatingOptions:
		return *v
	case *LinkFieldOptions:
		return *v
	case *FormulaOptions:
		return *v
	case *RollupOptions:
		return *v
	case *LookupOptions:
		return *v
	case *CountOptions:
		return *v
	case *AttachmentOptions:
		return *v
	case *UserOptions:
		return *v
	case *AIOptions:
		return *v
	case *ButtonOptions:
		return *v
	case *DurationOptions:
		return *v
	default:
		return opts
	}
}
