package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Bookshelf struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Books       []Book
}

type Book struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Chapter struct {
	ID          int64
	BookID      int64
	Name        string
	Slug        string
	Description string
	Priority    int
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Pages       []Page
}

type Page struct {
	ID        int64
	BookID    int64
	ChapterID int64
	Name      string
	Slug      string
	HTML      string
	Text      string
	Priority  int
	Draft     bool
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookTree is a book with its chapters and pages in display order. Pages
// inside a chapter hang off that chapter; Pages holds only book-level pages.
type BookTree struct {
	Book     Book
	Chapters []Chapter
	Pages    []Page
}

// EntitySummary is the compact form used by lists such as recents and
// profile activity.
type EntitySummary struct {
	Type      string
	ID        int64
	Name      string
	Slug      string
	BookID    int64
	BookSlug  string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Activity struct {
	ID         int64
	Type       string
	EntityType string
	EntityID   int64
	UserID     string
	UserName   string
	Detail     string
	CreatedAt  time.Time
}

// Restriction grants role the action on one entity. Any restriction on an
// entity replaces the role defaults for it.
type Restriction struct {
	EntityType string
	EntityID   int64
	Role       string
	Action     string
}

type JointPermission struct {
	Role       string
	EntityType string
	EntityID   int64
	BookID     int64
	Action     string
	Allowed    bool
}

// EntityNode is one member of a book's permission tree.
type EntityNode struct {
	Type       string
	ID         int64
	ParentType string
	ParentID   int64
}

type ContentCounts struct {
	Pages    int
	Chapters int
	Books    int
}

type ListOptions struct {
	Limit  int
	Offset int
	// Sort is a column name; unknown values fall back to name.
	Sort  string
	Order string
}

const (
	EntityBookshelf = "bookshelf"
	EntityBook      = "book"
	EntityChapter   = "chapter"
	EntityPage      = "page"
)
