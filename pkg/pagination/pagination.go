package pagination

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
)

const (
	// DefaultPageSize is the page size used when none is configured
	DefaultPageSize = 100

	// MaxPageSize caps configured page sizes
	MaxPageSize = 1000
)

// Cursor is the position a list call starts from: either Start or an opaque
// continuation token issued by a previous page.
type Cursor struct {
	token string
	set   bool
}

// Start is the cursor of the first page.
var Start = Cursor{}

// Continue wraps a continuation token.
func Continue(token string) Cursor {
	return Cursor{token: token, set: true}
}

// ParseCursor converts the optional wire field into a Cursor.
func ParseCursor(raw *string) Cursor {
	if raw == nil {
		return Start
	}
	return Continue(*raw)
}

// IsStart reports whether the cursor points at the first page.
func (c Cursor) IsStart() bool {
	return !c.set
}

// Token returns the wire form, nil for Start.
func (c Cursor) Token() *string {
	if !c.set {
		return nil
	}
	t := c.token
	return &t
}

// EncodeIndex turns a start index into an opaque token.
func EncodeIndex(index int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(index)))
}

// DecodeIndex recovers the start index from a cursor. Start decodes to zero;
// anything this package did not produce yields InvalidParams.
func DecodeIndex(c Cursor) (int, error) {
	if c.IsStart() {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.token)
	if err != nil {
		return 0, invalidCursor(c.token)
	}
	index, err := strconv.Atoi(string(raw))
	if err != nil || index < 0 {
		return 0, invalidCursor(c.token)
	}
	return index, nil
}

func invalidCursor(token string) error {
	return mcperrors.InvalidParams("invalid cursor").WithData(map[string]string{"cursor": token})
}

// Page is one slice of a list together with the cursor of the next slice.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// Paginate slices items from cursor. NextCursor is nil on the last page. A
// cursor past the end of the collection is invalid.
func Paginate[T any](items []T, cursor Cursor, pageSize int) (Page[T], error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start, err := DecodeIndex(cursor)
	if err != nil {
		return Page[T]{}, err
	}
	if start > len(items) || (start == len(items) && !cursor.IsStart()) {
		return Page[T]{}, invalidCursor(cursor.token)
	}

	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	page := Page[T]{Items: append([]T(nil), items[start:end]...)}
	if end < len(items) {
		next := EncodeIndex(end)
		page.NextCursor = &next
	}
	return page, nil
}

// FetchFunc retrieves the page that starts at cursor.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// Collect walks pages until one arrives without NextCursor. A short page is
// not treated as the end. A cursor seen twice aborts the walk.
func Collect[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	c := NewCollector()
	var all []T
	for c.HasMore {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		page, err := fetch(ctx, c.Next())
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		if err := c.Update(page.NextCursor, len(page.Items)); err != nil {
			return all, err
		}
	}
	return all, nil
}

// Collector tracks the state of a page walk.
type Collector struct {
	// NextCursor is the token to request next, empty before the first page
	NextCursor string
	// HasMore is false once a page without continuation was seen
	HasMore bool
	// TotalItems is the number of items collected so far
	TotalItems int

	started bool
	seen    map[string]struct{}
}

// NewCollector creates a new pagination collector
func NewCollector() *Collector {
	return &Collector{HasMore: true, seen: make(map[string]struct{})}
}

// Next returns the cursor for the next fetch.
func (c *Collector) Next() Cursor {
	if !c.started {
		return Start
	}
	return Continue(c.NextCursor)
}

// Update records a page. next is the page's nextCursor field.
func (c *Collector) Update(next *string, items int) error {
	c.started = true
	c.TotalItems += items
	if next == nil {
		c.HasMore = false
		c.NextCursor = ""
		return nil
	}
	if _, dup := c.seen[*next]; dup {
		c.HasMore = false
		return fmt.Errorf("pagination loop: cursor %q returned twice", *next)
	}
	c.seen[*next] = struct{}{}
	c.NextCursor = *next
	return nil
}
