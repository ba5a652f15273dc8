package reorder

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// memStore keeps entities in a map. A transaction works on a copy taken when
// the books are locked and replaces the map on commit.
type memStore struct {
	mu       sync.Mutex
	entities map[Ref]Entity
	books    map[int64]bool

	locked     [][]int64
	onLock     func(s *memStore)
	applyErr   error
	failAt     int
	applyCalls int
	txCount    int
}

func newMemStore(books ...int64) *memStore {
	s := &memStore{entities: make(map[Ref]Entity), books: make(map[int64]bool)}
	for _, id := range books {
		s.books[id] = true
	}
	return s
}

func (s *memStore) put(entity Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.Ref] = entity
	s.books[entity.BookID] = true
}

func (s *memStore) get(ref Ref) Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[ref]
}

func (s *memStore) snapshot() map[Ref]Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntities(s.entities)
}

func (s *memStore) Resolve(_ context.Context, ref Ref) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[ref]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return entity, nil
}

func (s *memStore) BookExists(_ context.Context, bookID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.books[bookID], nil
}

func (s *memStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.entities != nil {
		s.entities = tx.entities
	}
	return nil
}

type memTx struct {
	store    *memStore
	entities map[Ref]Entity
}

func (t *memTx) Resolve(ctx context.Context, ref Ref) (Entity, error) {
	if t.entities == nil {
		return t.store.Resolve(ctx, ref)
	}
	entity, ok := t.entities[ref]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return entity, nil
}

func (t *memTx) BookExists(ctx context.Context, bookID int64) (bool, error) {
	return t.store.BookExists(ctx, bookID)
}

func (t *memTx) LockBooks(_ context.Context, bookIDs []int64) error {
	if t.store.onLock != nil {
		t.store.onLock(t.store)
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, append([]int64(nil), bookIDs...))
	for _, id := range bookIDs {
		if !s.books[id] {
			return ErrNotFound
		}
	}
	t.entities = cloneEntities(s.entities)
	return nil
}

func (t *memTx) Siblings(_ context.Context, scope Scope) ([]Entity, error) {
	var members []Entity
	for _, entity := range t.entities {
		if ScopeOf(entity.Kind, entity.BookID, entity.ChapterID) == scope {
			members = append(members, entity)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Position != members[j].Position {
			return members[i].Position < members[j].Position
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

func (t *memTx) Apply(_ context.Context, write Write) error {
	t.store.applyCalls++
	if t.store.applyErr != nil && t.store.applyCalls >= t.store.failAt {
		return t.store.applyErr
	}
	entity, ok := t.entities[write.Ref]
	if !ok {
		return errors.New("apply to missing entity")
	}
	if write.BookChanged {
		entity.BookID = write.BookID
	}
	if write.ChapterChanged {
		entity.ChapterID = write.ChapterID
	}
	if write.PositionChanged {
		entity.Position = write.Position
	}
	t.entities[write.Ref] = entity
	return nil
}

func (t *memTx) CarryPages(_ context.Context, chapterID, bookID int64, except []int64) error {
	skip := make(map[int64]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	for ref, entity := range t.entities {
		if _, ok := skip[entity.ID]; ok {
			continue
		}
		if entity.Kind == KindPage && entity.ChapterID == chapterID {
			entity.BookID = bookID
			t.entities[ref] = entity
		}
	}
	return nil
}

func cloneEntities(in map[Ref]Entity) map[Ref]Entity {
	out := make(map[Ref]Entity, len(in))
	for ref, entity := range in {
		out[ref] = entity
	}
	return out
}

type fakeAuthorizer struct {
	mu     sync.Mutex
	denied map[int64]bool
	err    error
	calls  []int64
}

func (f *fakeAuthorizer) CanModifyStructure(_ context.Context, _ Actor, bookID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bookID)
	if f.err != nil {
		return false, f.err
	}
	return !f.denied[bookID], nil
}

type auditEvent struct {
	kind   string
	bookID int64
	actor  Actor
}

type fakeAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (f *fakeAudit) Record(_ context.Context, kind string, bookID int64, actor Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, auditEvent{kind: kind, bookID: bookID, actor: actor})
}

type fakeRebuilder struct {
	mu    sync.Mutex
	books []int64
	err   error
}

func (f *fakeRebuilder) RebuildForBook(_ context.Context, bookID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = append(f.books, bookID)
	return f.err
}

func page(id, bookID, chapterID int64, position int) Entity {
	return Entity{Ref: Ref{Kind: KindPage, ID: id}, BookID: bookID, ChapterID: chapterID, Position: position}
}

func chapter(id, bookID int64, position int) Entity {
	return Entity{Ref: Ref{Kind: KindChapter, ID: id}, BookID: bookID, Position: position}
}

func pageMove(id int64, position int, bookID, chapterID int64) Move {
	return Move{Ref: Ref{Kind: KindPage, ID: id}, Position: position, BookID: bookID, ChapterID: chapterID}
}

func chapterMove(id int64, position int, bookID int64) Move {
	return Move{Ref: Ref{Kind: KindChapter, ID: id}, Position: position, BookID: bookID}
}
