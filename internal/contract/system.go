package contract

import "strings"

// SystemField is a column the generator manages itself on every entity.
type SystemField string

const (
	SysID        SystemField = "id"
	SysCreatedAt SystemField = "created_at"
	SysUpdatedAt SystemField = "updated_at"
)

// SystemFields lists the managed fields in emission order.
var SystemFields = []SystemField{SysID, SysCreatedAt, SysUpdatedAt}

// SystemSlot reports which managed field, if any, a declared field maps to.
// Both the field name and its annotations count, so "createdAt",
// "created_at" and any field tagged @createdAt all land on SysCreatedAt.
func (f Field) SystemSlot() (SystemField, bool) {
	for _, a := range f.Annotations {
		switch a.Kind {
		case AnnID:
			return SysID, true
		case AnnCreatedAt:
			return SysCreatedAt, true
		case AnnUpdatedAt:
			return SysUpdatedAt, true
		}
	}
	switch normalizeName(f.Name) {
	case "id":
		return SysID, true
	case "createdat":
		return SysCreatedAt, true
	case "updatedat":
		return SysUpdatedAt, true
	}
	return "", false
}

// UserFields returns the entity's fields minus every system-managed one.
func (e Entity) UserFields() []Field {
	out := make([]Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if _, system := f.SystemSlot(); system {
			continue
		}
		out = append(out, f)
	}
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}
