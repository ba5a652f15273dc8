package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleHome(w http.ResponseWriter, r *http.Request, session Session) {
	view, err := s.service.Home(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drafts":          presentSummaries(view.Drafts),
		"recentlyViewed":  presentBooks(view.RecentlyViewed),
		"recentlyUpdated": presentSummaries(view.RecentlyUpdated),
	})
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session) {
	view, err := s.service.Profile(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":        view.User.ID,
			"name":      view.User.DisplayName,
			"createdAt": view.User.CreatedAt,
		},
		"counts": map[string]int{
			"pages":    view.Counts.Pages,
			"chapters": view.Counts.Chapters,
			"books":    view.Counts.Books,
		},
		"recentlyCreated": map[string]any{
			"pages":    presentSummaries(view.Pages),
			"chapters": presentSummaries(view.Chapters),
			"books":    presentSummaries(view.Books),
		},
		"activities": presentActivities(view.Activities),
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	var bookID int64
	if raw := strings.TrimSpace(query.Get("book")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_BOOK", "book must be a positive id", nil)
			return
		}
		bookID = parsed
	}
	response, err := s.service.Search(r.Context(), session, SearchInput{
		Text:   query.Get("q"),
		Type:   query.Get("type"),
		BookID: bookID,
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
