package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

type seedableDB interface {
	database.Database
	PutServerInstall(ctx context.Context, tx pgx.Tx, install *models.ServerInstall) error
	PutGitHubInstallation(ctx context.Context, tx pgx.Tx, inst *models.GitHubInstallation) error
}

func forEachStore(t *testing.T, fn func(t *testing.T, db seedableDB)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryDB())
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, NewTestDB(t))
	})
}

func seedInstall(t *testing.T, db seedableDB) *models.ServerInstall {
	t.Helper()
	install := &models.ServerInstall{
		ID:             "inst_1",
		OrganizationID: "org_1",
		ServerID:       "srv_1",
		ServerTitle:    "Widget",
		Envs:           []models.EnvVar{{Name: "LOG_LEVEL", Value: "debug"}},
		Inputs:         map[string]string{"region": "eu"},
		RootDir:        "server",
		ConfigRevision: 3,
	}
	require.NoError(t, db.PutServerInstall(context.Background(), nil, install))
	return install
}

func triplet(id string) (*models.Build, *models.Deployment, *models.Revision) {
	b := &models.Build{
		ID:             "b_" + id,
		ServerID:       "srv_1",
		OrganizationID: "org_1",
		TriggerType:    models.TriggerManual,
		Source: models.BuildSource{GitHub: &models.GitHubSource{
			Owner: "acme", Repo: "widget", Ref: "main", CommitHash: "abc1234",
		}},
		Status: models.StatusPlaced,
		Config: models.ConfigSnapshot{
			Envs:           []models.EnvVar{{Name: "LOG_LEVEL", Value: "debug"}},
			Inputs:         map[string]string{"region": "eu"},
			ConfigHash:     "hash",
			ConfigRevision: 3,
			RootDir:        "server",
		},
	}
	d := &models.Deployment{
		ID:             "d_" + id,
		BuildID:        b.ID,
		ServerID:       "srv_1",
		OrganizationID: "org_1",
		InstallID:      "inst_1",
		Status:         models.StatusPlaced,
		Target:         models.TargetPreview,
	}
	r := &models.Revision{
		ID:             "r_" + id,
		BuildID:        b.ID,
		DeploymentID:   d.ID,
		ServerID:       "srv_1",
		OrganizationID: "org_1",
		Status:         models.RevisionDraft,
	}
	return b, d, r
}

func insertTriplet(ctx context.Context, db database.Database, b *models.Build, d *models.Deployment, r *models.Revision) error {
	return db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := db.CreateBuild(ctx, tx, b); err != nil {
			return err
		}
		if err := db.CreateDeployment(ctx, tx, d); err != nil {
			return err
		}
		return db.CreateRevision(ctx, tx, r)
	})
}

func TestServerInstallLookup(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)

		got, err := db.GetServerInstall(ctx, nil, "org_1", "srv_1")
		require.NoError(t, err)
		assert.Equal(t, "inst_1", got.ID)
		assert.Equal(t, 3, got.ConfigRevision)
		assert.Equal(t, map[string]string{"region": "eu"}, got.Inputs)

		_, err = db.GetServerInstall(ctx, nil, "org_2", "srv_1")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestGitHubInstallationLookupIsCaseInsensitive(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		require.NoError(t, db.PutGitHubInstallation(ctx, nil, &models.GitHubInstallation{
			OrganizationID: "org_1", AppID: 42, AccountLogin: "Acme", InstallationID: 777,
		}))

		got, err := db.FindGitHubInstallation(ctx, nil, "org_1", 42, "acme")
		require.NoError(t, err)
		assert.Equal(t, int64(777), got.InstallationID)

		_, err = db.FindGitHubInstallation(ctx, nil, "org_1", 43, "acme")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestTripletCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)
		b, d, r := triplet("1")
		require.NoError(t, insertTriplet(ctx, db, b, d, r))

		gotB, err := db.GetBuild(ctx, nil, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPlaced, gotB.Status)
		require.NotNil(t, gotB.Source.GitHub)
		assert.Equal(t, "abc1234", gotB.Source.GitHub.CommitHash)
		assert.Nil(t, gotB.Source.Artifact)
		assert.Equal(t, "hash", gotB.Config.ConfigHash)

		gotD, err := db.GetDeployment(ctx, nil, d.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TargetPreview, gotD.Target)
		assert.Equal(t, b.ID, gotD.BuildID)

		gotR, err := db.GetRevisionByDeployment(ctx, nil, d.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, gotR.ID)
		assert.Equal(t, models.RevisionDraft, gotR.Status)
	})
}

func TestTripletRollbackOnRevisionFailure(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)
		b, d, r := triplet("1")
		r.DeploymentID = "does-not-exist"

		err := insertTriplet(ctx, db, b, d, r)
		require.Error(t, err)
		assert.ErrorIs(t, err, database.ErrInvalidInput)

		_, err = db.GetBuild(ctx, nil, b.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
		_, err = db.GetDeployment(ctx, nil, d.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestRevisionVersionUniquePerServer(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)
		v := "1.0.0"

		b1, d1, r1 := triplet("1")
		r1.Version = &v
		require.NoError(t, insertTriplet(ctx, db, b1, d1, r1))

		b2, d2, r2 := triplet("2")
		r2.Version = &v
		err := insertTriplet(ctx, db, b2, d2, r2)
		assert.ErrorIs(t, err, database.ErrAlreadyExists)
	})
}

func TestApplyBuildEvent(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)
		b, d, r := triplet("1")
		require.NoError(t, insertTriplet(ctx, db, b, d, r))

		builtAt := time.Now().UTC().Truncate(time.Second)
		img, digest := "img", "sha256:xyz"
		matched, err := db.ApplyBuildEvent(ctx, nil, models.BuildEvent{
			BuildID:      b.ID,
			DeploymentID: d.ID,
			Status:       models.StatusReady,
			BuiltAt:      &builtAt,
			ImageRef:     &img,
			ImageDigest:  &digest,
		})
		require.NoError(t, err)
		assert.True(t, matched)

		gotB, err := db.GetBuild(ctx, nil, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReady, gotB.Status)
		require.NotNil(t, gotB.ImageRef)
		assert.Equal(t, "img", *gotB.ImageRef)
		assert.Equal(t, "sha256:xyz", *gotB.ImageDigest)
		require.NotNil(t, gotB.BuiltAt)
		assert.True(t, builtAt.Equal(*gotB.BuiltAt))

		gotD, err := db.GetDeployment(ctx, nil, d.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReady, gotD.Status)

		// A later event without image data keeps the recorded image.
		_, err = db.ApplyBuildEvent(ctx, nil, models.BuildEvent{BuildID: b.ID, DeploymentID: d.ID, Status: models.StatusRunning})
		require.NoError(t, err)
		gotB, err = db.GetBuild(ctx, nil, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, gotB.Status)
		assert.Equal(t, "img", *gotB.ImageRef)
	})
}

func TestApplyBuildEventMissingRows(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		matched, err := db.ApplyBuildEvent(context.Background(), nil, models.BuildEvent{
			BuildID: "nope", DeploymentID: "nope", Status: models.StatusRunning,
		})
		require.NoError(t, err)
		assert.False(t, matched)
	})
}

func TestSetBuildStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)
		b, d, r := triplet("1")
		require.NoError(t, insertTriplet(ctx, db, b, d, r))

		require.NoError(t, db.SetBuildStatus(ctx, nil, b.ID, models.StatusError))

		gotB, err := db.GetBuild(ctx, nil, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, gotB.Status)
		assert.NotNil(t, gotB.BuiltAt)

		gotD, err := db.GetDeployment(ctx, nil, d.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, gotD.Status)

		err = db.SetBuildStatus(ctx, nil, "missing", models.StatusError)
		assert.True(t, errors.Is(err, database.ErrNotFound))
	})
}

func TestListStalePlaced(t *testing.T) {
	forEachStore(t, func(t *testing.T, db seedableDB) {
		ctx := context.Background()
		seedInstall(t, db)

		b1, d1, r1 := triplet("1")
		require.NoError(t, insertTriplet(ctx, db, b1, d1, r1))
		b2, d2, r2 := triplet("2")
		require.NoError(t, insertTriplet(ctx, db, b2, d2, r2))
		require.NoError(t, db.SetBuildStatus(ctx, nil, b2.ID, models.StatusRunning))

		stale, err := db.ListDeployments(ctx, nil, database.StalePlacedFilter(time.Minute, time.Now().Add(time.Hour)))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, d1.ID, stale[0].ID)

		fresh, err := db.ListDeployments(ctx, nil, database.StalePlacedFilter(time.Hour, time.Now()))
		require.NoError(t, err)
		assert.Empty(t, fresh)
	})
}
