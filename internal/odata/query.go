package odata

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Query builds the $-parameters of one OData request. Zero values are
// omitted from the query string.
type Query struct {
	Filter  string
	OrderBy string
	Top     int
	Skip    int
}

// filterSafe is the set of bytes left unescaped inside $filter/$orderby
// values beyond the RFC 3986 unreserved set. OData punctuation must
// survive encoding or the ERP rejects the filter with a 400.
const filterSafe = "'()=<>,$"

// Encode renders the query string, always requesting JSON. Filter and
// order clauses are percent-encoded with the OData-safe set; non-ASCII
// field names are UTF-8 percent-encoded.
func (q Query) Encode() string {
	var b strings.Builder
	b.WriteString("$format=json")
	if q.Filter != "" {
		b.WriteString("&$filter=")
		b.WriteString(escapeClause(q.Filter))
	}
	if q.OrderBy != "" {
		b.WriteString("&$orderby=")
		b.WriteString(escapeClause(q.OrderBy))
	}
	if q.Top > 0 {
		fmt.Fprintf(&b, "&$top=%d", q.Top)
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, "&$skip=%d", q.Skip)
	}
	return b.String()
}

// escapeClause percent-encodes a filter or order clause, preserving OData
// punctuation. url.QueryEscape is unusable here: it escapes the quotes and
// parentheses the ERP requires verbatim, and turns spaces into '+'.
func escapeClause(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '.' || c == '_' || c == '~':
			b.WriteByte(c)
		case strings.IndexByte(filterSafe, c) >= 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// DatetimeLiteral renders a timestamp as an OData datetime literal.
func DatetimeLiteral(t time.Time) string {
	return fmt.Sprintf("datetime'%s'", t.UTC().Format("2006-01-02T15:04:05"))
}

// GuidLiteral renders a UUID as an OData guid literal. GUIDs may only be
// compared with eq/ne; the ratings puller orders by key and filters
// in-process instead of using gt/lt.
func GuidLiteral(id uuid.UUID) string {
	return fmt.Sprintf("guid'%s'", id.String())
}

// GuidAnyFilter builds "Ref_Key eq guid'…' or Ref_Key eq guid'…' or …" for
// key-batched reconciliation queries.
func GuidAnyFilter(field string, keys []uuid.UUID) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s eq %s", field, GuidLiteral(k)))
	}
	return strings.Join(parts, " or ")
}
