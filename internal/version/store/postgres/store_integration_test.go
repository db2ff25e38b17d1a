//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"examen/internal/version/models"
	versionStore "examen/internal/version/store/postgres"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
	"examen/pkg/testutil/containers"
)

type VersionPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *versionStore.Store
}

func TestVersionPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(VersionPostgresSuite))
}

func (s *VersionPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = versionStore.New(s.postgres.DB)
}

func (s *VersionPostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "entity_versions")
	s.Require().NoError(err)
}

func (s *VersionPostgresSuite) newDraft(entity id.EntityID, marker string) *models.EntityVersion {
	payload := map[string]any{
		"samples": []any{"TX-1001", marker},
		"period":  "2025-Q1",
	}
	v, err := models.NewVersion(id.EntitySamples, entity, id.NewActorID(), payload, "selection "+marker,
		nil, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return v
}

// createInTx runs CreateIfNoOpenDraft inside its own committed transaction,
// the way the service calls it.
func (s *VersionPostgresSuite) createInTx(v *models.EntityVersion) error {
	ctx := context.Background()
	dbTx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	if err := s.store.CreateIfNoOpenDraft(tx.WithTx(ctx, dbTx), v); err != nil {
		s.Require().NoError(dbTx.Rollback())
		return err
	}
	s.Require().NoError(dbTx.Commit())
	return nil
}

func (s *VersionPostgresSuite) closeOut(v *models.EntityVersion) {
	v.ApplySubmit(v.CreatedBy, time.Now().UTC().Truncate(time.Microsecond))
	v.ApplyRevisionRequested(v.CreatedBy, "", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Update(context.Background(), v))
}

func (s *VersionPostgresSuite) TestCreateAssignsNumbers() {
	v1 := s.newDraft("e-1", "a")
	s.Require().NoError(s.createInTx(v1))
	s.Equal(1, v1.Number)
	s.Equal(int64(1), v1.RowVersion)

	s.closeOut(v1)

	v2 := s.newDraft("e-1", "b")
	s.Require().NoError(s.createInTx(v2))
	s.Equal(2, v2.Number)

	latest, err := s.store.Latest(context.Background(), id.EntitySamples, "e-1")
	s.Require().NoError(err)
	s.Equal(v2.ID, latest.ID)
}

func (s *VersionPostgresSuite) TestOpenVersionConflict() {
	s.Require().NoError(s.createInTx(s.newDraft("e-1", "a")))

	err := s.createInTx(s.newDraft("e-1", "b"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

// TestConcurrentCreates races writers against the partial unique index; the
// database must let exactly one through.
func (s *VersionPostgresSuite) TestConcurrentCreates() {
	const writers = 8
	drafts := make([]*models.EntityVersion, writers)
	for i := range drafts {
		drafts[i] = s.newDraft("contested", "w")
	}

	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx := context.Background()
			dbTx, err := s.postgres.DB.BeginTx(ctx, nil)
			if err != nil {
				errs[n] = err
				return
			}
			if err := s.store.CreateIfNoOpenDraft(tx.WithTx(ctx, dbTx), drafts[n]); err != nil {
				_ = dbTx.Rollback()
				errs[n] = err
				return
			}
			errs[n] = dbTx.Commit()
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			s.ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Equal(1, wins)

	all, err := s.store.ListByEntity(context.Background(), id.EntitySamples, "contested")
	s.Require().NoError(err)
	s.Len(all, 1)
	s.Equal(1, all[0].Number)
}

func (s *VersionPostgresSuite) TestRoundTrip() {
	parent := id.NewVersionID()
	v := s.newDraft("e-1", "a")
	v.ParentID = &parent
	s.Require().NoError(s.createInTx(v))

	submitter := id.NewActorID()
	approver := id.NewActorID()
	at := time.Now().UTC().Truncate(time.Microsecond)
	v.ApplySubmit(submitter, at)
	v.ApplyApprove(approver, "checked against the population", at.Add(time.Minute))
	s.Require().NoError(s.store.Update(context.Background(), v))

	got, err := s.store.Get(context.Background(), v.ID)
	s.Require().NoError(err)

	s.Equal(v.ID, got.ID)
	s.Equal(id.EntitySamples, got.EntityType)
	s.Equal(id.EntityID("e-1"), got.EntityID)
	s.Equal(models.StatusApproved, got.Status)
	s.True(got.IsLatest)
	s.Require().NotNil(got.ParentID)
	s.Equal(parent, *got.ParentID)
	s.Equal(v.PayloadDigest, got.PayloadDigest)
	s.Equal("2025-Q1", got.Payload["period"])
	s.Equal("checked against the population", got.Notes)
	s.Require().NotNil(got.SubmittedBy)
	s.Equal(submitter, *got.SubmittedBy)
	s.Require().NotNil(got.DecidedAt)
	s.Equal(at.Add(time.Minute), got.DecidedAt.UTC())
	s.Equal(int64(2), got.RowVersion)
}

func (s *VersionPostgresSuite) TestOptimisticUpdate() {
	v := s.newDraft("e-1", "a")
	s.Require().NoError(s.createInTx(v))

	stale := v.Clone()
	at := time.Now().UTC().Truncate(time.Microsecond)
	v.ApplySubmit(v.CreatedBy, at)
	s.Require().NoError(s.store.Update(context.Background(), v))

	stale.ApplySubmit(stale.CreatedBy, at)
	err := s.store.Update(context.Background(), stale)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	missing := s.newDraft("e-2", "b")
	err = s.store.Update(context.Background(), missing)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *VersionPostgresSuite) TestReads() {
	ctx := context.Background()

	v1 := s.newDraft("e-1", "a")
	s.Require().NoError(s.createInTx(v1))
	at := time.Now().UTC().Truncate(time.Microsecond)
	v1.ApplySubmit(v1.CreatedBy, at)
	v1.ApplyApprove(id.NewActorID(), "", at)
	s.Require().NoError(s.store.Update(ctx, v1))

	v2 := s.newDraft("e-1", "b")
	s.Require().NoError(s.createInTx(v2))

	byNumber, err := s.store.ByNumber(ctx, id.EntitySamples, "e-1", 1)
	s.Require().NoError(err)
	s.Equal(v1.ID, byNumber.ID)

	newest, err := s.store.NewestByEntity(ctx, id.EntitySamples, "e-1")
	s.Require().NoError(err)
	s.Equal(v2.ID, newest.ID)

	approved, err := s.store.ApprovedVersion(ctx, id.EntitySamples, "e-1")
	s.Require().NoError(err)
	s.Equal(v1.ID, approved.ID)

	all, err := s.store.ListByEntity(ctx, id.EntitySamples, "e-1")
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(2, all[0].Number)
	s.Equal(1, all[1].Number)

	_, err = s.store.Get(ctx, id.NewVersionID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
