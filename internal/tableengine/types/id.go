package types

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes per the engine's opaque ID format.
const (
	PrefixSpace        = "spc_"
	PrefixBase         = "base_"
	PrefixTable        = "tbl_"
	PrefixField        = "fld_"
	PrefixRecord       = "rec_"
	PrefixView         = "viw_"
	PrefixCollaborator = "col_"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID generates an opaque, URL-safe ID of the form "<prefix><base32(uuid)>",
// always at or under 64 characters.
func NewID(prefix string) string {
	raw := uuid.New()
	encoded := strings.ToLower(idEncoding.EncodeToString(raw[:]))
	return prefix + encoded
}

// NewSpaceID, NewBaseID, ... are convenience wrappers over NewID for each
// entity kind.
func NewSpaceID() string        { return NewID(PrefixSpace) }
func NewBaseID() string         { return NewID(PrefixBase) }
func NewTableID() string        { return NewID(PrefixTable) }
func NewFieldID() string        { return NewID(PrefixField) }
func NewRecordID() string       { return NewID(PrefixRecord) }
func NewViewID() string         { return NewID(PrefixView) }
func NewCollaboratorID() string { return NewID(PrefixCollaborator) }
