package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleSortView(w http.ResponseWriter, r *http.Request, session Session) {
	tree, err := s.service.SortView(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentTree(tree))
}

func (s *HTTPServer) handleSortItem(w http.ResponseWriter, r *http.Request, session Session) {
	tree, err := s.service.SortItem(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentTree(tree))
}

// handleSort applies a sort tree and sends the client back to the book it
// started from.
func (s *HTTPServer) handleSort(w http.ResponseWriter, r *http.Request, session Session) {
	var body SortInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	outcome, err := s.service.Sort(r.Context(), session, mux.Vars(r)["slug"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	affected := outcome.Affected
	if affected == nil {
		affected = []int64{}
	}
	w.Header().Set("Location", "/books/"+outcome.Book.Slug)
	writeJSON(w, http.StatusSeeOther, map[string]any{
		"book":     outcome.Book.Slug,
		"affected": affected,
	})
}

func (s *HTTPServer) handleOutlineHistory(w http.ResponseWriter, r *http.Request, session Session) {
	commits, err := s.service.OutlineHistory(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleGetRestrictions(w http.ResponseWriter, r *http.Request, session Session) {
	restrictions, err := s.service.BookRestrictions(r.Context(), session, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restrictions": presentRestrictions(restrictions)})
}

func (s *HTTPServer) handleSetRestrictions(w http.ResponseWriter, r *http.Request, session Session) {
	var body RestrictionsInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	restrictions, err := s.service.SetBookRestrictions(r.Context(), session, mux.Vars(r)["slug"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restrictions": presentRestrictions(restrictions)})
}
