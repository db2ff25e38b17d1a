package httptransport

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	activityhandler "examen/internal/activity/handler"
	activityservice "examen/internal/activity/service"
	activityMemory "examen/internal/activity/store/memory"
	audithandler "examen/internal/audit/handler"
	auditservice "examen/internal/audit/service"
	auditMemory "examen/internal/audit/store/memory"
	jwttoken "examen/internal/jwt_token"
	"examen/internal/platform/secrets"
	slaconfig "examen/internal/sla/config"
	slahandler "examen/internal/sla/handler"
	slaservice "examen/internal/sla/service"
	slaMemory "examen/internal/sla/store/memory"
	versionhandler "examen/internal/version/handler"
	versionservice "examen/internal/version/service"
	versionMemory "examen/internal/version/store/memory"
	workflowhandler "examen/internal/workflow/handler"
	workflowservice "examen/internal/workflow/service"
	wfMemory "examen/internal/workflow/store/memory"
	id "examen/pkg/domain"
	"examen/pkg/testutil"
)

// =============================================================================
// Router Test Suite
// =============================================================================
// Assembles the full router over real services and memory stores, the same
// shape main builds, and probes the boundaries between the open, token and
// service-key surfaces.

const routerSuiteServiceKey = "router-suite-service-key"

type RouterSuite struct {
	suite.Suite
	router http.Handler
	tokens *jwttoken.Service

	keyHash string
	actor   id.ActorID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupSuite() {
	hash, err := secrets.Hash(routerSuiteServiceKey)
	s.Require().NoError(err)
	s.keyHash = hash
}

func (s *RouterSuite) SetupTest() {
	s.router = s.buildRouter(Options{ServiceKeyHash: s.keyHash})
}

func (s *RouterSuite) buildRouter(opts Options) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := auditservice.NewRecorder(auditMemory.New())

	activityMem := activityMemory.New()
	hook := workflowservice.NewPhaseCompletionHook()
	gate := workflowservice.NewVersionApprovalGate()
	activities := activityservice.NewManager(activityMem, activityMem, recorder,
		activityservice.WithVersionGate(gate),
		activityservice.WithPhaseHook(hook),
	)

	versionMem := versionMemory.New()
	versions := versionservice.NewManager(versionMem, versionMem, recorder,
		versionservice.WithAdvancer(activities),
	)
	gate.Bind(versions)

	slaMem := slaMemory.New()
	tracker := slaservice.NewTracker(slaMem, slaMem, recorder, slaconfig.DefaultRules())

	wfMem := wfMemory.New()
	orch := workflowservice.NewOrchestrator(wfMem, wfMem, recorder, activities,
		workflowservice.WithSLA(tracker),
	)
	hook.Bind(orch)

	s.tokens = jwttoken.NewService("router-suite-signing-key", "examen", "examen-api")
	s.actor = id.NewActorID()

	return New(Handlers{
		Workflow: workflowhandler.New(orch, logger),
		Activity: activityhandler.New(activities, logger),
		Version:  versionhandler.New(versions, logger),
		SLA:      slahandler.New(tracker, logger),
		Audit:    audithandler.New(recorder, logger),
	}, jwttoken.NewServiceAdapter(s.tokens), nil, logger, opts)
}

func (s *RouterSuite) authed(req *http.Request) *http.Request {
	token, err := s.tokens.GenerateToken(s.actor, "tester", time.Hour)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *RouterSuite) TestOperationalEndpoints() {
	s.Run("healthz needs no token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "status", "ok")
	})

	s.Run("metrics needs no token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})
}

func (s *RouterSuite) TestTokenBoundary() {
	s.Run("api rejects anonymous callers", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/cycles/cycle-2025/reports/rep-1/status")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("api serves token holders", func() {
		req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/cycles/cycle-2025/reports/rep-1/status"))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("write path works end to end", func() {
		req := s.authed(testutil.NewRequest(s.T(), http.MethodPost, "/cycles/cycle-2025/reports/rep-1/phases/planning/start"))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "status", "in_progress")
	})
}

func (s *RouterSuite) TestServiceKeyBoundary() {
	ingest := func(key string) *http.Request {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/ingest/versions", map[string]any{
			"entity_type": "samples",
			"entity_id":   "batch-7",
			"author_id":   id.NewActorID().String(),
			"payload":     map[string]any{"samples": []string{"s-1", "s-2"}},
		})
		if key != "" {
			req.Header.Set("X-Service-Key", key)
		}
		return req
	}

	s.Run("ingest rejects missing key", func() {
		rr := testutil.DoRequest(s.router, ingest(""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("ingest rejects a wrong key", func() {
		rr := testutil.DoRequest(s.router, ingest("not-the-key"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("ingest accepts the provisioned key", func() {
		rr := testutil.DoRequest(s.router, ingest(routerSuiteServiceKey))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	})

	s.Run("ingest is absent without a configured key", func() {
		router := s.buildRouter(Options{})
		rr := testutil.DoRequest(router, ingest(routerSuiteServiceKey))
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}
