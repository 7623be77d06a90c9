package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-data/quarry/annex"
	"github.com/meridian-data/quarry/bucket"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/store"
)

func newEngine(t *testing.T) *annex.Annexificator {
	t.Helper()
	repo, err := store.Init(t.TempDir(), nil)
	require.NoError(t, err)
	client := fetch.NewClient(5*time.Second, fetch.ClientOptions{})
	engine, err := annex.New(repo, fetch.NewDownloader(client, fetch.DownloaderOptions{}), annex.Options{
		DisableStatus: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func runAction(t *testing.T, node pipeline.Node, rec pipeline.Record) {
	t.Helper()
	s := node.Run(context.Background(), rec)
	defer s.Close()
	for {
		if _, err := s.Next(); err != nil {
			require.ErrorIs(t, err, pipeline.ErrEnd)
			return
		}
	}
}

func actionRecord(fields map[string]any) pipeline.Record {
	rec := pipeline.NewRecord()
	for k, v := range fields {
		rec.Set(k, v)
	}
	return rec
}

func TestActionExecutorPersistsCheckpointOnlyWhenCommitLands(t *testing.T) {
	engine := newEngine(t)
	var persisted []bucket.Checkpoint
	node := actionExecutor(engine, "test-bucket", func(c bucket.Checkpoint) error {
		persisted = append(persisted, c)
		return nil
	})

	path := filepath.Join(engine.Repo().Path(), "obj1")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	runAction(t, node, actionRecord(map[string]any{"action": "annex", "path": "obj1"}))
	require.Empty(t, persisted, "resume state must not exist before the batch is committed")

	cp := bucket.Checkpoint{
		LastModified: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Key:          "obj1",
		VersionID:    "1",
	}
	runAction(t, node, actionRecord(map[string]any{"action": "commit", "checkpoint": cp}))

	require.Equal(t, []bucket.Checkpoint{cp}, persisted)
	log, err := engine.Repo().Log(1)
	require.NoError(t, err)
	require.Len(t, log, 1, "the commit landed before its checkpoint was persisted")
}

func TestActionExecutorCommitWithoutCheckpoint(t *testing.T) {
	engine := newEngine(t)
	calls := 0
	node := actionExecutor(engine, "test-bucket", func(bucket.Checkpoint) error {
		calls++
		return nil
	})

	runAction(t, node, actionRecord(map[string]any{"action": "commit"}))
	require.Zero(t, calls, "a commit record without a checkpoint persists nothing")
}
