package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is the page size used when none is configured
	DefaultPageSize = 500
	// MaxPageSize is the largest page either provider accepts (QuickBooks MAXRESULTS)
	MaxPageSize = 1000
)

// Cursor is a provider-agnostic pagination position.
//
// Position is 1-based: the STARTPOSITION for offset-style providers and the
// page number for page-style providers. Each adapter advances it in its own
// unit through NextOffset or NextPage.
type Cursor struct {
	Position int
	PageSize int
}

// FirstCursor returns the cursor for the first page.
func FirstCursor(pageSize int) Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Cursor{Position: 1, PageSize: pageSize}
}

// NextOffset returns the cursor for the following offset-style page,
// or nil when fetched was short of a full page.
func (c Cursor) NextOffset(fetched int) *Cursor {
	if fetched < c.PageSize {
		return nil
	}
	return &Cursor{Position: c.Position + fetched, PageSize: c.PageSize}
}

// NextPage returns the cursor for the following numbered page,
// or nil when fetched was short of a full page.
func (c Cursor) NextPage(fetched int) *Cursor {
	if fetched < c.PageSize {
		return nil
	}
	return &Cursor{Position: c.Position + 1, PageSize: c.PageSize}
}

// String encodes the cursor as "position:pageSize".
func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.Position, c.PageSize)
}

// ParseCursor decodes a cursor produced by String.
func ParseCursor(s string) (Cursor, error) {
	pos, size, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: cursor %q", ErrInvalidInput, s)
	}
	p, err := strconv.Atoi(pos)
	if err != nil || p < 1 {
		return Cursor{}, fmt.Errorf("%w: cursor position %q", ErrInvalidInput, pos)
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 1 {
		return Cursor{}, fmt.Errorf("%w: cursor page size %q", ErrInvalidInput, size)
	}
	return Cursor{Position: p, PageSize: n}, nil
}
