package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"bookshelf/api/internal/store"
)

func (s *HTTPServer) handleListShelves(w http.ResponseWriter, r *http.Request, session Session) {
	view, err := s.service.ShelvesIndex(r.Context(), session, queryInt(r, "page", 1))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shelves": presentShelves(view.Shelves),
		"total":   view.Total,
		"page":    view.Page,
		"perPage": view.PerPage,
		"recents": presentBooks(view.Recents),
		"popular": presentBooks(view.Popular),
		"new":     presentShelves(view.New),
	})
}

func (s *HTTPServer) handleCreateShelf(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateShelfInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	shelf, err := s.service.CreateShelf(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentShelf(shelf))
}

func (s *HTTPServer) handleShowShelf(w http.ResponseWriter, r *http.Request, session Session) {
	shelf, err := s.service.ShowShelf(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentShelf(shelf))
}

func (s *HTTPServer) handleDeleteShelf(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteShelf(r.Context(), session, mux.Vars(r)["slug"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListBooks(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	books, err := s.service.ListBooks(r.Context(), session, store.ListOptions{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
		Sort:   query.Get("sort"),
		Order:  query.Get("order"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": presentBooks(books)})
}

func (s *HTTPServer) handleCreateBook(w http.ResponseWriter, r *http.Request, session Session) {
	var body BookInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	book, err := s.service.CreateBook(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentBook(book))
}

func (s *HTTPServer) handleShowBook(w http.ResponseWriter, r *http.Request, session Session) {
	tree, err := s.service.ShowBook(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentTree(tree))
}

func (s *HTTPServer) handleUpdateBook(w http.ResponseWriter, r *http.Request, session Session) {
	var body BookInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	book, err := s.service.UpdateBook(r.Context(), session, mux.Vars(r)["slug"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBook(book))
}

func (s *HTTPServer) handleDeleteBook(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteBook(r.Context(), session, mux.Vars(r)["slug"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateChapter(w http.ResponseWriter, r *http.Request, session Session) {
	var body ChapterInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	chapter, err := s.service.CreateChapter(r.Context(), session, mux.Vars(r)["slug"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentChapter(chapter))
}

func (s *HTTPServer) handleShowChapter(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	chapter, err := s.service.ShowChapter(r.Context(), session, vars["slug"], vars["chapter"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentChapter(chapter))
}

func (s *HTTPServer) handleCreatePage(w http.ResponseWriter, r *http.Request, session Session) {
	var body PageInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	page, err := s.service.CreatePage(r.Context(), session, mux.Vars(r)["slug"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentPage(page, true))
}

func (s *HTTPServer) handleShowPage(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	page, err := s.service.ShowPage(r.Context(), session, vars["slug"], vars["page"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentPage(page, true))
}
