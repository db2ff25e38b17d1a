package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"examen/internal/activity/models"
	activityservice "examen/internal/activity/service"
	activityMemory "examen/internal/activity/store/memory"
	auditservice "examen/internal/audit/service"
	auditMemory "examen/internal/audit/store/memory"
	workflowservice "examen/internal/workflow/service"
	wfMemory "examen/internal/workflow/store/memory"
	id "examen/pkg/domain"
	"examen/pkg/requestcontext"
	"examen/pkg/testutil"
)

// =============================================================================
// Activity Handler Test Suite
// =============================================================================
// Justification: routes are driven against the real activity manager with a
// phase materialized from the default templates, so the tests pin both the
// HTTP shapes and the status mapping of ordering violations.

type ActivityHandlerSuite struct {
	suite.Suite
	router  http.Handler
	manager *activityservice.Manager
	orch    *workflowservice.Orchestrator
	ctx     context.Context

	actor   id.ActorID
	phaseID id.PhaseID
}

func TestActivityHandlerSuite(t *testing.T) {
	suite.Run(t, new(ActivityHandlerSuite))
}

var activitySuiteNow = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

func (s *ActivityHandlerSuite) SetupTest() {
	phases := wfMemory.New()
	activityMem := activityMemory.New()
	recorder := auditservice.NewRecorder(auditMemory.New())

	hook := workflowservice.NewPhaseCompletionHook()
	s.manager = activityservice.NewManager(activityMem, activityMem, recorder,
		activityservice.WithPhaseHook(hook),
	)
	s.orch = workflowservice.NewOrchestrator(phases, phases, recorder, s.manager)
	hook.Bind(s.orch)

	s.actor = id.NewActorID()
	s.ctx = requestcontext.WithTime(requestcontext.WithActorID(context.Background(), s.actor), activitySuiteNow)

	inst, err := s.orch.StartPhase(s.ctx, "cycle-2025", "rep-1", id.PhasePlanning, s.actor)
	s.Require().NoError(err)
	s.phaseID = inst.ID

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.manager, logger)

	r := chi.NewRouter()
	r.Use(s.injectActor)
	h.Register(r)
	s.router = r
}

func (s *ActivityHandlerSuite) injectActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithActorID(r.Context(), s.actor)))
	})
}

// byName fetches the named planning activity through the service.
func (s *ActivityHandlerSuite) byName(name string) *models.Instance {
	list, err := s.manager.ListByPhase(s.ctx, s.phaseID)
	s.Require().NoError(err)
	for _, a := range list {
		if a.Name == name {
			return a
		}
	}
	s.Require().FailNowf("activity not found", "no activity named %q", name)
	return nil
}

func (s *ActivityHandlerSuite) post(path string) *models.Instance {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, path))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	return testutil.UnmarshalResponse[models.Instance](s.T(), rr)
}

// =============================================================================
// Listing and reads
// =============================================================================

func (s *ActivityHandlerSuite) TestList() {
	s.Run("lists the phase in position order", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/phases/"+s.phaseID.String()+"/activities")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[ActivityListResponse](s.T(), rr)
		s.Require().Len(got.Activities, 6)
		s.Equal("open planning", got.Activities[0].Name)
		s.Equal(models.StatusActive, got.Activities[0].Status)
		s.True(got.Activities[0].CanComplete)
		for i, a := range got.Activities {
			s.Equal(i+1, a.Position)
		}
	})

	s.Run("rejects a malformed phase id", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/phases/not-a-uuid/activities")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}

func (s *ActivityHandlerSuite) TestGet() {
	s.Run("returns one activity with its derived flags", func() {
		open := s.byName("open planning")

		req := testutil.NewRequest(s.T(), http.MethodGet, "/activities/"+open.ID.String())
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.Instance](s.T(), rr)
		s.Equal(open.ID, got.ID)
		s.True(got.CanComplete)
	})

	s.Run("unknown activity maps to 404", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/activities/"+id.NewActivityID().String())
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

// =============================================================================
// Lifecycle routes
// =============================================================================

func (s *ActivityHandlerSuite) TestStartAndComplete() {
	s.Run("walks the opening sequence", func() {
		open := s.byName("open planning")
		done := s.post("/activities/" + open.ID.String() + "/complete")
		s.Equal(models.StatusCompleted, done.Status)

		draft := s.byName("draft attribute list")
		started := s.post("/activities/" + draft.ID.String() + "/start")
		s.Equal(models.StatusActive, started.Status)
	})

	s.Run("out-of-order start is blocked", func() {
		review := s.byName("review attributes")

		req := testutil.NewRequest(s.T(), http.MethodPost, "/activities/"+review.ID.String()+"/start")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "blocked")
	})

	s.Run("completing a not started activity is invalid", func() {
		close := s.byName("close planning")

		req := testutil.NewRequest(s.T(), http.MethodPost, "/activities/"+close.ID.String()+"/complete")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
	})
}

func (s *ActivityHandlerSuite) TestSkip() {
	s.Run("skips an optional activity with a reason", func() {
		optional := s.byName("map regulatory references")

		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/activities/"+optional.ID.String()+"/skip",
			map[string]any{"reason": "references unchanged since last cycle"})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[models.Instance](s.T(), rr)
		s.Equal(models.StatusSkipped, got.Status)
		s.Equal("references unchanged since last cycle", got.SkipReason)
	})

	s.Run("required activities cannot be skipped", func() {
		draft := s.byName("draft attribute list")

		req := testutil.NewJSONRequest(s.T(), http.MethodPost,
			"/activities/"+draft.ID.String()+"/skip", map[string]any{})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "blocked")
	})
}

func (s *ActivityHandlerSuite) TestReset() {
	s.Run("rewinds a completed activity", func() {
		open := s.byName("open planning")
		s.post("/activities/" + open.ID.String() + "/complete")

		req := testutil.NewRequest(s.T(), http.MethodPost, "/activities/"+open.ID.String()+"/reset")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[ActivityListResponse](s.T(), rr)
		s.Require().NotEmpty(got.Activities)
		s.Equal(open.ID, got.Activities[0].ID)
		s.Equal(models.StatusNotStarted, got.Activities[0].Status)
	})

	s.Run("resetting an unfinished activity is invalid", func() {
		draft := s.byName("draft attribute list")

		req := testutil.NewRequest(s.T(), http.MethodPost, "/activities/"+draft.ID.String()+"/reset")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
	})
}
