package order

import (
	"strings"
)

// Global identifier prefixes used by the storefront catalog.
const (
	GIDPrefix           = "gid://"
	OrderGIDPrefix      = "gid://shopify/Order/"
	DraftOrderGIDPrefix = "gid://shopify/DraftOrder/"
)

// Kind tells which catalog entity a reference denotes.
type Kind int

const (
	KindUnknown Kind = iota
	KindOrder
	KindDraftOrder
	// KindName is a human-facing display name such as "#1001" or "D247".
	KindName
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindDraftOrder:
		return "draft_order"
	case KindName:
		return "name"
	default:
		return "unknown"
	}
}

// KindOf classifies a reference. Numeric ids are treated as orders since
// they normalize to order global ids.
func KindOf(ref string) Kind {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return KindUnknown
	case strings.HasPrefix(ref, DraftOrderGIDPrefix):
		return KindDraftOrder
	case strings.HasPrefix(ref, OrderGIDPrefix), isDigits(ref):
		return KindOrder
	case strings.HasPrefix(ref, GIDPrefix):
		return KindUnknown
	default:
		return KindName
	}
}

// IsDraft reports whether ref is a draft order global id.
func IsDraft(ref string) bool {
	return strings.HasPrefix(ref, DraftOrderGIDPrefix)
}

// Normalize turns a raw numeric id into an order global id. Global ids and
// anything else (names) are returned unchanged.
func Normalize(raw string) string {
	if raw == "" || strings.HasPrefix(raw, GIDPrefix) {
		return raw
	}
	if isDigits(raw) {
		return OrderGIDPrefix + raw
	}
	return raw
}

// Aliases returns every key under which a mapping for the order may be
// stored, in probe order: raw form, normalized global id, display name.
// Duplicates and empty values are dropped.
func Aliases(raw, name string) []string {
	keys := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	add(raw)
	add(Normalize(raw))
	add(name)
	return keys
}

// Lookup is a parsed human input: either a display name or an id.
type Lookup struct {
	Name string
	ID   string
}

// ParseLookup accepts "#1001" and "1001" as display names, anything else as
// an id (global or otherwise).
func ParseLookup(input string) Lookup {
	s := strings.TrimSpace(input)
	digits := strings.TrimPrefix(s, "#")
	if digits != "" && isDigits(digits) {
		return Lookup{Name: "#" + digits}
	}
	return Lookup{ID: s}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
