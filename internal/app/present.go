package app

import "bookshelf/api/internal/store"

func presentSession(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt,
	}
}

func presentBook(book store.Book) map[string]any {
	return map[string]any{
		"id":          book.ID,
		"name":        book.Name,
		"slug":        book.Slug,
		"description": book.Description,
		"createdBy":   book.CreatedBy,
		"updatedBy":   book.UpdatedBy,
		"createdAt":   book.CreatedAt,
		"updatedAt":   book.UpdatedAt,
	}
}

func presentBooks(books []store.Book) []map[string]any {
	items := make([]map[string]any, 0, len(books))
	for _, book := range books {
		items = append(items, presentBook(book))
	}
	return items
}

func presentShelf(shelf store.Bookshelf) map[string]any {
	return map[string]any{
		"id":          shelf.ID,
		"name":        shelf.Name,
		"slug":        shelf.Slug,
		"description": shelf.Description,
		"createdBy":   shelf.CreatedBy,
		"createdAt":   shelf.CreatedAt,
		"updatedAt":   shelf.UpdatedAt,
		"books":       presentBooks(shelf.Books),
	}
}

func presentShelves(shelves []store.Bookshelf) []map[string]any {
	items := make([]map[string]any, 0, len(shelves))
	for _, shelf := range shelves {
		items = append(items, presentShelf(shelf))
	}
	return items
}

func presentChapter(chapter store.Chapter) map[string]any {
	pages := make([]map[string]any, 0, len(chapter.Pages))
	for _, page := range chapter.Pages {
		pages = append(pages, presentPage(page, false))
	}
	return map[string]any{
		"type":        store.EntityChapter,
		"id":          chapter.ID,
		"bookId":      chapter.BookID,
		"name":        chapter.Name,
		"slug":        chapter.Slug,
		"description": chapter.Description,
		"priority":    chapter.Priority,
		"updatedAt":   chapter.UpdatedAt,
		"pages":       pages,
	}
}

// presentPage leaves the body out of tree listings.
func presentPage(page store.Page, withBody bool) map[string]any {
	item := map[string]any{
		"type":      store.EntityPage,
		"id":        page.ID,
		"bookId":    page.BookID,
		"chapterId": page.ChapterID,
		"name":      page.Name,
		"slug":      page.Slug,
		"priority":  page.Priority,
		"draft":     page.Draft,
		"updatedAt": page.UpdatedAt,
	}
	if withBody {
		item["html"] = page.HTML
	}
	return item
}

// presentTree lists chapters and book-level pages as one sequence ordered
// by priority, the order readers and the sort view see them in.
func presentTree(tree store.BookTree) map[string]any {
	contents := make([]map[string]any, 0, len(tree.Chapters)+len(tree.Pages))
	ci, pi := 0, 0
	for ci < len(tree.Chapters) || pi < len(tree.Pages) {
		if pi >= len(tree.Pages) || (ci < len(tree.Chapters) && tree.Chapters[ci].Priority <= tree.Pages[pi].Priority) {
			contents = append(contents, presentChapter(tree.Chapters[ci]))
			ci++
			continue
		}
		contents = append(contents, presentPage(tree.Pages[pi], false))
		pi++
	}
	book := presentBook(tree.Book)
	book["contents"] = contents
	return book
}

func presentSummaries(items []store.EntitySummary) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"type":      item.Type,
			"id":        item.ID,
			"name":      item.Name,
			"slug":      item.Slug,
			"bookId":    item.BookID,
			"bookSlug":  item.BookSlug,
			"createdBy": item.CreatedBy,
			"createdAt": item.CreatedAt,
			"updatedAt": item.UpdatedAt,
		})
	}
	return out
}

func presentActivities(activities []store.Activity) []map[string]any {
	out := make([]map[string]any, 0, len(activities))
	for _, activity := range activities {
		out = append(out, map[string]any{
			"id":         activity.ID,
			"type":       activity.Type,
			"entityType": activity.EntityType,
			"entityId":   activity.EntityID,
			"userId":     activity.UserID,
			"userName":   activity.UserName,
			"detail":     activity.Detail,
			"createdAt":  activity.CreatedAt,
		})
	}
	return out
}

func presentRestrictions(restrictions []store.Restriction) []map[string]any {
	out := make([]map[string]any, 0, len(restrictions))
	for _, restriction := range restrictions {
		out = append(out, map[string]any{
			"role":   restriction.Role,
			"action": restriction.Action,
		})
	}
	return out
}
