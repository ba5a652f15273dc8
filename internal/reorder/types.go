// Package reorder moves chapters and pages between and within books.
//
// A batch is applied in two passes. BuildPlan validates the batch against the
// store and the caller's permissions and produces an immutable Plan. The Engine
// then applies the plan inside a single transaction while holding a row lock on
// every book the batch touches.
package reorder

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a sortable entity.
type Kind string

const (
	KindChapter Kind = "chapter"
	KindPage    Kind = "page"

	// KindBook only appears in error references. Books are containers and
	// can not be moved.
	KindBook Kind = "book"
)

// ParseKind accepts the two movable kinds and rejects everything else.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindChapter:
		return KindChapter, nil
	case KindPage:
		return KindPage, nil
	}
	return "", &UnknownKindError{Index: -1, Value: raw}
}

func (k Kind) movable() bool {
	return k == KindChapter || k == KindPage
}

// Ref names a single entity. Chapter and page ids live in separate tables so
// an id is only unique together with its kind.
type Ref struct {
	Kind Kind
	ID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %d", r.Kind, r.ID)
}

// Entity is the stored placement of a chapter or page.
type Entity struct {
	Ref
	BookID int64
	// ChapterID is zero for chapters and for pages that sit directly in a book.
	ChapterID int64
	Position  int
	Name      string
}

// Move is one instruction of a batch: put Ref at Position inside BookID, and
// for pages inside ChapterID (zero meaning the book level).
type Move struct {
	Ref
	Position  int
	BookID    int64
	ChapterID int64
}

func (m Move) sameTarget(other Move) bool {
	return m.Position == other.Position && m.BookID == other.BookID && m.ChapterID == other.ChapterID
}

// Batch is an ordered list of moves. Order matters: when two moves ask for the
// same position in the same scope the earlier one ends up first.
type Batch struct {
	Moves []Move
}

// Actor is the user a batch is applied on behalf of.
type Actor struct {
	UserID string
	Role   string
}

// Scope is a set of siblings whose positions must be unique. Chapters are
// ordered within their book. Pages are ordered within their chapter, or within
// the book level when they have no chapter. Chapters and pages never share a
// scope.
type Scope struct {
	Kind      Kind
	BookID    int64
	ChapterID int64
}

// ScopeOf returns the sibling scope an entity of kind would occupy at the
// given placement. A chapter determines its book, so pages inside a chapter
// are keyed by the chapter alone.
func ScopeOf(kind Kind, bookID, chapterID int64) Scope {
	switch {
	case kind == KindChapter:
		return Scope{Kind: KindChapter, BookID: bookID}
	case chapterID != 0:
		return Scope{Kind: KindPage, ChapterID: chapterID}
	default:
		return Scope{Kind: KindPage, BookID: bookID}
	}
}

func (s Scope) less(other Scope) bool {
	if s.Kind != other.Kind {
		return s.Kind < other.Kind
	}
	if s.BookID != other.BookID {
		return s.BookID < other.BookID
	}
	return s.ChapterID < other.ChapterID
}

// Write is the set of column changes for one entity. Only the fields flagged
// as changed are persisted.
type Write struct {
	Ref
	PrevBookID      int64
	BookID          int64
	ChapterID       int64
	Position        int
	BookChanged     bool
	ChapterChanged  bool
	PositionChanged bool
}

func (w Write) empty() bool {
	return !w.BookChanged && !w.ChapterChanged && !w.PositionChanged
}
