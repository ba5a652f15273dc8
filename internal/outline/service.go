// Package outline keeps a git history of every book's structure. Each
// successful sort commits a fresh outline.json to the book's repository.
package outline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"bookshelf/api/internal/store"
)

const fileName = "outline.json"

type Node struct {
	Type     string `json:"type"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Children []Node `json:"children,omitempty"`
}

type Snapshot struct {
	BookID int64  `json:"bookId"`
	Name   string `json:"name"`
	Nodes  []Node `json:"nodes"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromTree flattens a loaded book into the order a reader sees it:
// chapters and book-level pages interleaved by position.
func FromTree(tree store.BookTree) Snapshot {
	nodes := make([]Node, 0, len(tree.Chapters)+len(tree.Pages))
	ci, pi := 0, 0
	for ci < len(tree.Chapters) || pi < len(tree.Pages) {
		takeChapter := pi >= len(tree.Pages) ||
			(ci < len(tree.Chapters) && tree.Chapters[ci].Priority <= tree.Pages[pi].Priority)
		if takeChapter {
			chapter := tree.Chapters[ci]
			node := Node{Type: store.EntityChapter, ID: chapter.ID, Name: chapter.Name, Position: chapter.Priority}
			for _, page := range chapter.Pages {
				node.Children = append(node.Children, Node{Type: store.EntityPage, ID: page.ID, Name: page.Name, Position: page.Priority})
			}
			nodes = append(nodes, node)
			ci++
			continue
		}
		page := tree.Pages[pi]
		nodes = append(nodes, Node{Type: store.EntityPage, ID: page.ID, Name: page.Name, Position: page.Priority})
		pi++
	}
	return Snapshot{BookID: tree.Book.ID, Name: tree.Book.Name, Nodes: nodes}
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Record commits snapshot to the book's repository, creating it on first
// use. An outline identical to the current head is not committed again and
// the returned bool is false.
func (s *Service) Record(snapshot Snapshot, author, message string) (Commit, bool, error) {
	lock := s.bookLock(snapshot.BookID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(snapshot.BookID)
	if err != nil {
		return Commit{}, false, err
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Commit{}, false, fmt.Errorf("marshal outline: %w", err)
	}
	payload = append(payload, '\n')

	if head, err := repo.Head(); err == nil {
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, false, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readFile(commitObj)
		if err == nil && bytes.Equal(current, payload) {
			return toCommit(commitObj), false, nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Commit{}, false, fmt.Errorf("resolve head: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), fileName), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", fileName, err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return Commit{}, false, fmt.Errorf("git add outline: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@bookshelf.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit outline: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// History lists outline commits newest first. A book that was never sorted
// has no history.
func (s *Service) History(bookID int64, limit int) ([]Commit, error) {
	lock := s.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	items := make([]Commit, 0)
	repo, err := git.PlainOpen(s.repoPath(bookID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// At returns the outline stored in one commit. hash may be abbreviated.
func (s *Service) At(bookID int64, hash string) (Snapshot, error) {
	lock := s.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(bookID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readFile(commitObj)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode outline: %w", err)
	}
	return snapshot, nil
}

func (s *Service) openOrInit(bookID int64) (*git.Repository, error) {
	path := s.repoPath(bookID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(bookID int64) string {
	return filepath.Join(s.baseDir, "book-"+strconv.FormatInt(bookID, 10))
}

func (s *Service) bookLock(bookID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[bookID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[bookID] = lock
	return lock
}

func readFile(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(fileName)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", fileName, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open outline reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
