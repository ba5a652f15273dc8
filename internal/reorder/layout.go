package reorder

import "sort"

type member struct {
	entity    Entity
	target    Move
	requested int
	planned   bool
	order     int
}

// Layout computes the writes that place every move of the plan inside its
// target scope. siblings holds the current members of each scope returned by
// TargetScopes; entities that the plan moves are ignored there.
//
// Within a scope members are ordered by requested position. Planned moves go
// before untouched siblings asking for the same slot, and planned moves with
// equal positions keep batch order. Each member then takes its requested
// position or the slot right after its predecessor, whichever is higher, so
// positions stay unique and only shift where they collide.
func (p *Plan) Layout(siblings map[Scope][]Entity) []Write {
	moving := make(map[Ref]struct{}, len(p.moves))
	byScope := make(map[Scope][]plannedMove)
	for _, pm := range p.moves {
		moving[pm.move.Ref] = struct{}{}
		scope := ScopeOf(pm.move.Kind, pm.move.BookID, pm.move.ChapterID)
		byScope[scope] = append(byScope[scope], pm)
	}

	var writes []Write
	for _, scope := range p.TargetScopes() {
		members := make([]member, 0, len(byScope[scope])+len(siblings[scope]))
		for _, pm := range byScope[scope] {
			members = append(members, member{
				entity:    pm.current,
				target:    pm.move,
				requested: pm.move.Position,
				planned:   true,
				order:     pm.index,
			})
		}
		for _, entity := range siblings[scope] {
			if _, ok := moving[entity.Ref]; ok {
				continue
			}
			members = append(members, member{
				entity: entity,
				target: Move{
					Ref:       entity.Ref,
					Position:  entity.Position,
					BookID:    entity.BookID,
					ChapterID: entity.ChapterID,
				},
				requested: entity.Position,
			})
		}
		sort.SliceStable(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.requested != b.requested {
				return a.requested < b.requested
			}
			if a.planned != b.planned {
				return a.planned
			}
			if a.planned {
				return a.order < b.order
			}
			return a.entity.ID < b.entity.ID
		})

		next := 0
		for i, m := range members {
			position := m.requested
			if i > 0 && position < next {
				position = next
			}
			next = position + 1

			write := Write{
				Ref:             m.entity.Ref,
				PrevBookID:      m.entity.BookID,
				BookID:          m.target.BookID,
				ChapterID:       m.target.ChapterID,
				Position:        position,
				BookChanged:     m.entity.BookID != m.target.BookID,
				ChapterChanged:  m.entity.Kind == KindPage && m.entity.ChapterID != m.target.ChapterID,
				PositionChanged: m.entity.Position != position,
			}
			if !write.empty() {
				writes = append(writes, write)
			}
		}
	}
	return writes
}

// affectedBooks returns the books whose contents changed, ascending.
func affectedBooks(writes []Write) []int64 {
	seen := make(map[int64]struct{})
	books := make([]int64, 0)
	add := func(bookID int64) {
		if _, ok := seen[bookID]; ok {
			return
		}
		seen[bookID] = struct{}{}
		books = append(books, bookID)
	}
	for _, write := range writes {
		add(write.PrevBookID)
		add(write.BookID)
	}
	sort.Slice(books, func(i, j int) bool { return books[i] < books[j] })
	return books
}
