package payload

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Where is a CMS filter expression. Field names map to operator objects
// ({"equals": v}) or to the "or"/"and" combinators holding nested clauses.
type Where map[string]any

// Equals matches documents whose field equals value
func Equals(field string, value any) Where {
	return Where{field: Where{"equals": value}}
}

// Contains matches documents whose field contains value
func Contains(field string, value any) Where {
	return Where{field: Where{"contains": value}}
}

// Exists matches documents where field is (or is not) set
func Exists(field string, exists bool) Where {
	return Where{field: Where{"exists": exists}}
}

// Or matches documents satisfying any clause
func Or(clauses ...Where) Where {
	return Where{"or": clauses}
}

// And merges clauses into a single expression. Later clauses win on key collisions.
func And(clauses ...Where) Where {
	out := Where{}
	for _, c := range clauses {
		for k, v := range c {
			out[k] = v
		}
	}
	return out
}

// SlugOrID matches a document addressed either by slug or by id
func SlugOrID(value string) Where {
	return Or(Equals("slug", value), Equals("id", value))
}

// Query is a REST list query
type Query struct {
	Where Where
	// Depth controls relation population; it is always sent.
	Depth int
	// Limit is sent only when positive.
	Limit int
	Sort  string
}

// Encode renders the query in the bracketed form the REST API parses,
// e.g. where[site][equals]=abc&depth=0. Keys are emitted in sorted order.
func (q Query) Encode() string {
	var pairs [][2]string
	if len(q.Where) > 0 {
		flatten("where", q.Where, &pairs)
	}
	pairs = append(pairs, [2]string{"depth", strconv.Itoa(q.Depth)})
	if q.Limit > 0 {
		pairs = append(pairs, [2]string{"limit", strconv.Itoa(q.Limit)})
	}
	if q.Sort != "" {
		pairs = append(pairs, [2]string{"sort", q.Sort})
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+url.QueryEscape(p[1]))
	}
	return strings.Join(parts, "&")
}

// URL appends the encoded query to base
func (q Query) URL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

func flatten(prefix string, v any, out *[][2]string) {
	switch t := v.(type) {
	case Where:
		flattenMap(prefix, t, out)
	case map[string]any:
		flattenMap(prefix, t, out)
	case []Where:
		for i, c := range t {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), c, out)
		}
	case []any:
		for i, c := range t {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), c, out)
		}
	case nil:
		*out = append(*out, [2]string{prefix, ""})
	default:
		*out = append(*out, [2]string{prefix, fmt.Sprint(t)})
	}
}

func flattenMap(prefix string, m map[string]any, out *[][2]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flatten(prefix+"["+k+"]", m[k], out)
	}
}
