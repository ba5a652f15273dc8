package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/store"
)

type fakeStore struct {
	insertFn func(ctx context.Context, activity store.Activity) error
}

func (f *fakeStore) InsertActivity(ctx context.Context, activity store.Activity) error {
	return f.insertFn(ctx, activity)
}

func TestRecordWritesBookActivity(t *testing.T) {
	var got store.Activity
	recorder := NewRecorder(&fakeStore{insertFn: func(_ context.Context, a store.Activity) error {
		got = a
		return nil
	}}, nil)

	var sink reorder.AuditSink = recorder
	sink.Record(context.Background(), reorder.ActivityBookSort, 9, reorder.Actor{UserID: "user-1", Role: "editor"})

	assert.Equal(t, store.Activity{Type: "book_sort", EntityType: "book", EntityID: 9, UserID: "user-1"}, got)
}

func TestLogSwallowsStoreErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	recorder := NewRecorder(&fakeStore{insertFn: func(context.Context, store.Activity) error {
		return errors.New("insert failed")
	}}, logger.WithField("component", "activity"))

	recorder.Log(context.Background(), BookCreate, store.EntityBook, 3, "user-1", "")

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "record activity", hook.LastEntry().Message)
}
