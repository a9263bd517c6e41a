// internal/app/system/paging/paging.go
//
// Package paging implements forward keyset paging over a case-folded sort
// key plus _id, with opaque cursors encoded by waffle.
package paging

import (
	"net/http"
	"strconv"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Page is one request for a window of rows.
type Page struct {
	Limit int
	After *wafflemongo.Cursor // nil for the first page
}

// Parse reads ?limit= and ?after= from r. ok is false when the cursor is
// present but cannot be decoded.
func Parse(r *http.Request) (p Page, ok bool) {
	p.Limit = parseLimit(query.Get(r, "limit"))
	if after := query.Get(r, "after"); after != "" {
		c, valid := wafflemongo.DecodeCursor(after)
		if !valid {
			return p, false
		}
		p.After = &c
	}
	return p, true
}

func parseLimit(s string) int {
	if s == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func (p Page) limit() int {
	if p.Limit < 1 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}

// ApplyToFind sorts by (sortField, _id) and fetches one extra row so Trim
// can tell whether another page exists.
func (p Page) ApplyToFind(find *options.FindOptions, sortField string) {
	find.SetSort(bson.D{
		{Key: sortField, Value: 1},
		{Key: "_id", Value: 1},
	}).SetLimit(int64(p.limit() + 1))
}

// Window returns the filter that starts the page after the cursor, or nil
// for the first page.
func (p Page) Window(sortField string) bson.M {
	if p.After == nil {
		return nil
	}
	return wafflemongo.KeysetWindow(sortField, "gt", p.After.CI, p.After.ID)
}

// Trim drops the look-ahead row and reports whether there are more rows.
func Trim[T any](rows *[]T, p Page) bool {
	if len(*rows) > p.limit() {
		*rows = (*rows)[:p.limit()]
		return true
	}
	return false
}

// Next returns the cursor for the page after rows, or "" when there is
// none.
func Next[T any](rows []T, more bool, keyFn func(T) string, idFn func(T) primitive.ObjectID) string {
	if !more || len(rows) == 0 {
		return ""
	}
	last := rows[len(rows)-1]
	return wafflemongo.EncodeCursor(keyFn(last), idFn(last))
}
