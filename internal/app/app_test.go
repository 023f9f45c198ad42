package app

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Paths.Dataset = filepath.Join(root, "restaurants.csv")
	cfg.Paths.Template = filepath.Join(root, "template.yaml")
	cfg.Paths.ConfigsDir = filepath.Join(root, "configs")
	cfg.Paths.OutputDir = filepath.Join(root, "data")
	cfg.Worker.Command = []string{"sh", "-c", "exit 0"}
	cfg.Recovery.Archive.Provider = config.ArchiveMemory
	cfg.Metrics.Textfile = filepath.Join(root, "metrics", "harvest.prom")

	require.NoError(t, os.WriteFile(cfg.Paths.Dataset, []byte("name,id\nLe Chat Noir,pid_1\nBistro X,pid_2\n"), 0o600))
	require.NoError(t, os.WriteFile(cfg.Paths.Template, []byte("restaurant: \"\"\nurl: \"\"\njson_path: \"\"\nseen_ids_path: \"\"\n"), 0o600))
	return cfg
}

func TestBuildCollectRecoverClose(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	summary, err := a.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"le_chat_noir", "bistro_x"}, summary.Collected)
	require.FileExists(t, filepath.Join(cfg.Paths.ConfigsDir, "le_chat_noir.yaml"))

	doc := filepath.Join(cfg.Paths.OutputDir, "le_chat_noir", "le_chat_noir.json")
	require.NoError(t, os.WriteFile(doc, []byte(`[{"review_id":"a"},{"review_id":"a"},{"x":1}]`), 0o600))

	results, err := a.Recover(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "le_chat_noir", results[0].Slug)
	require.Equal(t, 1, results[0].Kept)
	require.NotEmpty(t, results[0].ArchiveURI)
	require.FileExists(t, doc+".bak")

	require.NoError(t, a.Close(ctx))
	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	require.Contains(t, string(prom), "harvest_entities_started_total 2")
	require.Contains(t, string(prom), `harvest_runs_completed_total{outcome="done"} 1`)
}

func TestBuildFailsOnBadArchive(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Recovery.Archive.Provider = config.ArchiveLocal
	cfg.Recovery.Archive.BaseDir = filepath.Join(blocker, "archive")

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestCollectMissingDataset(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Paths.Dataset = filepath.Join(t.TempDir(), "missing.csv")
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	_, err = a.Collect(context.Background())
	require.Error(t, err)
}

func TestRecoverRejectsUnknownNamedSlug(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	ctx := context.Background()
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(ctx)) }()

	known := filepath.Join(cfg.Paths.OutputDir, "bistro_x")
	require.NoError(t, os.MkdirAll(known, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(known, "bistro_x.json"), []byte(`[{"review_id":"a"}]`), 0o600))

	results, err := a.Recover(ctx, []string{"bistro_y", "bistro_x"})
	require.ErrorIs(t, err, ErrUnknownSlug)
	require.ErrorContains(t, err, "bistro_y")
	require.Len(t, results, 1)
	require.Equal(t, "bistro_x", results[0].Slug)
	require.NoDirExists(t, filepath.Join(cfg.Paths.OutputDir, "bistro_y"))
}

type stubRunStore struct {
	rows   []store.EntityRun
	closed bool
}

func (s *stubRunStore) StartEntity(context.Context, store.EntityRun) error { return nil }

func (s *stubRunStore) CompleteEntity(
	context.Context, uuid.UUID, string, time.Time, store.RunStatus, int64, *string,
) error {
	return nil
}

func (s *stubRunStore) GetEntity(_ context.Context, runID uuid.UUID, slug string) (store.EntityRun, error) {
	for _, row := range s.rows {
		if row.RunID == runID && row.Slug == slug {
			return row, nil
		}
	}
	return store.EntityRun{}, store.ErrNotFound
}

func (s *stubRunStore) ListRun(_ context.Context, runID uuid.UUID) ([]store.EntityRun, error) {
	var out []store.EntityRun
	for _, row := range s.rows {
		if row.RunID == runID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubRunStore) Close() { s.closed = true }

func TestRunStatus(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	stub := &stubRunStore{rows: []store.EntityRun{
		{RunID: runID, Slug: "le_chat_noir", Status: store.RunSuccess},
		{RunID: runID, Slug: "bistro_x", Status: store.RunRecovered, Records: 3},
		{RunID: uuid.New(), Slug: "other", Status: store.RunError},
	}}
	a := &App{logger: zap.NewNop(), runStore: stub}
	ctx := context.Background()

	all, err := a.RunStatus(ctx, runID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := a.RunStatus(ctx, runID, []string{"bistro_x"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, store.RunRecovered, one[0].Status)
	require.EqualValues(t, 3, one[0].Records)

	_, err = a.RunStatus(ctx, runID, []string{"missing"})
	require.ErrorIs(t, err, store.ErrNotFound)

	a.closeInfrastructure(ctx)
	require.True(t, stub.closed)
}

func TestRunStatusWithoutStore(t *testing.T) {
	t.Parallel()

	a := &App{logger: zap.NewNop()}
	_, err := a.RunStatus(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, ErrNoRunStore)
}
