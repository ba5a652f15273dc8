package app

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so clients can match them to input.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type LogoutInput struct {
	RefreshToken string `json:"refreshToken"`
}

type CreateShelfInput struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=1000"`
	Books       []int64 `json:"books" validate:"dive,gt=0"`
}

type BookInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

type ChapterInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

type PageInput struct {
	Name string `json:"name" validate:"required,max=255"`
	HTML string `json:"html"`
	// ChapterID places the page inside a chapter of the same book. Zero
	// keeps it at the book level.
	ChapterID int64 `json:"chapterId" validate:"gte=0"`
	Draft     bool  `json:"draft"`
}

// SortEntry is one row of the sort tree the sort view submits.
type SortEntry struct {
	ID            int64  `json:"id" validate:"gt=0"`
	Type          string `json:"type"`
	Sort          int    `json:"sort" validate:"gte=0"`
	Book          int64  `json:"book" validate:"gt=0"`
	ParentChapter int64  `json:"parentChapter" validate:"gte=0"`
}

type SortInput struct {
	Tree []SortEntry `json:"sort-tree" validate:"dive"`
}

type RestrictionInput struct {
	Role   string `json:"role" validate:"required,oneof=viewer editor admin"`
	Action string `json:"action" validate:"required,oneof=view create update delete"`
}

type RestrictionsInput struct {
	Restrictions []RestrictionInput `json:"restrictions" validate:"dive"`
}
