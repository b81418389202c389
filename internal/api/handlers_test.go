package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/api"
	"github.com/reportbrief/reportbrief-backend/internal/audit"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/email"
	"github.com/reportbrief/reportbrief-backend/internal/queue"
	stripeinternal "github.com/reportbrief/reportbrief-backend/internal/stripe"
	"github.com/reportbrief/reportbrief-backend/internal/triggers"
	"github.com/sqlc-dev/pqtype"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

// stubQuerier satisfies db.Querier with in-memory state.
// Fields may be set per-test to control behaviour.
type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	sessions      map[string]db.Session // keyed by token
	users         map[uuid.UUID]db.User
	reports       map[uuid.UUID]db.Report
	summaries     map[uuid.UUID]db.Summary
	subscriptions map[uuid.UUID]db.Subscription

	upsertedLogins []db.UpsertUserLoginParams
	loginCount     int32 // login_count returned by UpsertUserLogin
	upsertLoginErr error

	defaultPrefsFor []uuid.UUID

	pending    []db.EmailJob
	pendingErr error
	markedSent []db.MarkEmailJobSentParams

	stripeEvents    map[string]bool
	upsertEventErr  error
	upsertedSubs    []db.UpsertSubscriptionParams
	upsertSubErr    error
	processedEvents []string
	failedEvents    []db.MarkStripeEventFailedParams
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		sessions:      make(map[string]db.Session),
		users:         make(map[uuid.UUID]db.User),
		reports:       make(map[uuid.UUID]db.Report),
		summaries:     make(map[uuid.UUID]db.Summary),
		subscriptions: make(map[uuid.UUID]db.Subscription),
		stripeEvents:  make(map[string]bool),
		loginCount:    1,
	}
}

func (q *stubQuerier) GetSessionByToken(_ context.Context, token string) (db.Session, error) {
	s, ok := q.sessions[token]
	if !ok {
		return db.Session{}, sql.ErrNoRows
	}
	return s, nil
}

func (q *stubQuerier) GetUserByID(_ context.Context, id uuid.UUID) (db.User, error) {
	u, ok := q.users[id]
	if !ok {
		return db.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (q *stubQuerier) UpsertUserLogin(_ context.Context, p db.UpsertUserLoginParams) (db.User, error) {
	if q.upsertLoginErr != nil {
		return db.User{}, q.upsertLoginErr
	}
	q.upsertedLogins = append(q.upsertedLogins, p)
	return db.User{
		ID:         p.ID,
		Email:      p.Email,
		Name:       sql.NullString{String: p.Name, Valid: p.Name != ""},
		LoginCount: q.loginCount,
	}, nil
}

func (q *stubQuerier) CreateDefaultEmailPreferences(_ context.Context, userID uuid.UUID) (db.EmailPreferences, error) {
	q.defaultPrefsFor = append(q.defaultPrefsFor, userID)
	return db.EmailPreferences{UserID: userID, WelcomeEmail: true}, nil
}

func (q *stubQuerier) GetReportByID(_ context.Context, id uuid.UUID) (db.Report, error) {
	r, ok := q.reports[id]
	if !ok {
		return db.Report{}, sql.ErrNoRows
	}
	return r, nil
}

func (q *stubQuerier) GetSummaryByID(_ context.Context, id uuid.UUID) (db.Summary, error) {
	s, ok := q.summaries[id]
	if !ok {
		return db.Summary{}, sql.ErrNoRows
	}
	return s, nil
}

func (q *stubQuerier) GetLatestSubscription(_ context.Context, userID uuid.UUID) (db.Subscription, error) {
	s, ok := q.subscriptions[userID]
	if !ok {
		return db.Subscription{}, sql.ErrNoRows
	}
	return s, nil
}

func (q *stubQuerier) CountAuditEvents(_ context.Context, _ db.CountAuditEventsParams) (int64, error) {
	return 0, nil
}

func (q *stubQuerier) ListPendingEmailJobs(_ context.Context, _ db.ListPendingEmailJobsParams) ([]db.EmailJob, error) {
	if q.pendingErr != nil {
		return nil, q.pendingErr
	}
	return q.pending, nil
}

func (q *stubQuerier) MarkEmailJobSent(_ context.Context, p db.MarkEmailJobSentParams) (db.EmailJob, error) {
	q.markedSent = append(q.markedSent, p)
	return db.EmailJob{ID: p.ID, Status: db.EmailJobSent}, nil
}

func (q *stubQuerier) MarkEmailJobFailed(_ context.Context, p db.MarkEmailJobFailedParams) (db.EmailJob, error) {
	return db.EmailJob{ID: p.ID, Status: db.EmailJobFailed}, nil
}

func (q *stubQuerier) UpsertStripeEvent(_ context.Context, p db.UpsertStripeEventParams) (db.StripeEvent, error) {
	if q.upsertEventErr != nil {
		return db.StripeEvent{}, q.upsertEventErr
	}
	if q.stripeEvents[p.StripeEventID] {
		return db.StripeEvent{}, sql.ErrNoRows // ON CONFLICT DO NOTHING path
	}
	q.stripeEvents[p.StripeEventID] = true
	return db.StripeEvent{StripeEventID: p.StripeEventID, Type: p.Type}, nil
}

func (q *stubQuerier) MarkStripeEventProcessed(_ context.Context, id string) (db.StripeEvent, error) {
	q.processedEvents = append(q.processedEvents, id)
	return db.StripeEvent{StripeEventID: id}, nil
}

func (q *stubQuerier) MarkStripeEventFailed(_ context.Context, p db.MarkStripeEventFailedParams) (db.StripeEvent, error) {
	q.failedEvents = append(q.failedEvents, p)
	return db.StripeEvent{StripeEventID: p.StripeEventID}, nil
}

func (q *stubQuerier) UpsertSubscription(_ context.Context, p db.UpsertSubscriptionParams) (db.Subscription, error) {
	if q.upsertSubErr != nil {
		return db.Subscription{}, q.upsertSubErr
	}
	q.upsertedSubs = append(q.upsertedSubs, p)
	return db.Subscription{UserID: p.UserID, StripeSubscriptionID: p.StripeSubscriptionID, Status: p.Status}, nil
}

// stubEnqueuer records enqueue calls and reports a fixed outcome.
type stubEnqueuer struct {
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	userID  uuid.UUID
	payload email.Payload
}

func (e *stubEnqueuer) Enqueue(_ context.Context, userID uuid.UUID, data email.Payload, _ *time.Time) (queue.EnqueueResult, error) {
	if e.err != nil {
		return queue.EnqueueResult{}, e.err
	}
	e.calls = append(e.calls, enqueueCall{userID: userID, payload: data})
	id := uuid.New()
	return queue.EnqueueResult{Queued: true, JobID: &id}, nil
}

// stubStripe is a controllable Stripe client.
type stubStripe struct {
	verifyEvent stripeinternal.Event
	verifyErr   error
}

func (s *stubStripe) VerifyWebhook(_ []byte, _ string, _ string) (stripeinternal.Event, error) {
	return s.verifyEvent, s.verifyErr
}

// stubSender always delivers.
type stubSender struct {
	sent []string
}

func (s *stubSender) Send(_ context.Context, to, _, _ string) (string, error) {
	s.sent = append(s.sent, to)
	return "re_test", nil
}

// stubSink discards audit events.
type stubSink struct {
	events []string
}

func (s *stubSink) Event(_ context.Context, eventType string, _ *uuid.UUID, _ audit.Fields) {
	s.events = append(s.events, eventType)
}

func (s *stubSink) Exception(_ context.Context, _ error, _ audit.Fields) {}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

const testCronSecret = "cron_secret_test"

type testDeps struct {
	q       *stubQuerier
	enq     *stubEnqueuer
	stripe  *stubStripe
	sender  *stubSender
	sink    *stubSink
	handler http.Handler
}

func newTestServer(t *testing.T) *testDeps {
	t.Helper()

	q := newStubQuerier()
	enq := &stubEnqueuer{}
	strp := &stubStripe{}
	sender := &stubSender{}
	sink := &stubSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	renderer, err := email.NewRenderer("http://localhost:3000")
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	processor := queue.NewProcessor(q, renderer, sender, sink, logger, 0)
	tiers := triggers.NewTierResolver(q, []string{"price_std"}, []string{"price_pro"})
	engine := triggers.NewEngine(q, enq, tiers, sink, logger)

	cfg := api.Config{
		Env:                 "development",
		CronSecret:          testCronSecret,
		StripeWebhookSecret: "whsec_test",
	}

	handler := api.NewServer(q, enq, processor, engine, strp, sink, cfg, logger)

	return &testDeps{q: q, enq: enq, stripe: strp, sender: sender, sink: sink, handler: handler}
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rr.Body.String())
	}
}

// sessionFor seeds a valid session for a new user and returns the user id
// and auth header.
func sessionFor(deps *testDeps) (uuid.UUID, map[string]string) {
	userID := uuid.New()
	deps.q.users[userID] = db.User{ID: userID, Email: "user@example.com", LoginCount: 1}
	token := "tok_" + userID.String()
	deps.q.sessions[token] = db.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return userID, map[string]string{"Authorization": "Bearer " + token}
}

func pendingJob(t *testing.T, to string, data email.Payload) db.EmailJob {
	t.Helper()
	raw, err := email.EncodePayload(data)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return db.EmailJob{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		EmailType: string(data.Kind()),
		ToEmail:   to,
		Subject:   "s",
		Status:    db.EmailJobPending,
		Metadata:  pqtype.NullRawMessage{RawMessage: raw, Valid: true},
	}
}

// ─── GET /healthz ─────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

// ─── GET /api/cron/manager ────────────────────────────────────────────────────

func TestCronManager_BadSecretReturns401(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet,
		"/api/cron/manager?job=email_queue&secret=wrong", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCronManager_MissingSecretReturns401(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet,
		"/api/cron/manager?job=email_queue", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCronManager_UnknownJobReturns400(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet,
		"/api/cron/manager?job=defrag&secret="+testCronSecret, nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCronManager_EmailQueueJobProcessesBatch(t *testing.T) {
	deps := newTestServer(t)
	deps.q.pending = []db.EmailJob{
		pendingJob(t, "a@x.com", email.WelcomeData{Name: "A"}),
		pendingJob(t, "b@x.com", email.WelcomeData{Name: "B"}),
	}

	rr := doRequest(t, deps.handler, http.MethodGet,
		"/api/cron/manager?job=email_queue&secret="+testCronSecret, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		Job     string `json:"job"`
		Results struct {
			Processed int `json:"processed"`
			Sent      int `json:"sent"`
			Failed    int `json:"failed"`
		} `json:"results"`
	}
	decodeJSON(t, rr, &resp)

	if !resp.Success || resp.Job != "email_queue" {
		t.Errorf("envelope: %+v", resp)
	}
	if resp.Results.Processed != 2 || resp.Results.Sent != 2 {
		t.Errorf("results: %+v", resp.Results)
	}
	if len(deps.sender.sent) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(deps.sender.sent))
	}
}

func TestCronManager_JobFailureReturns500WithDetails(t *testing.T) {
	deps := newTestServer(t)
	deps.q.pendingErr = errors.New("relation email_queue does not exist")

	rr := doRequest(t, deps.handler, http.MethodGet,
		"/api/cron/manager?job=email_queue&secret="+testCronSecret, nil, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var resp struct {
		Success bool   `json:"success"`
		Details string `json:"details"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Success || resp.Details == "" {
		t.Errorf("envelope: %+v", resp)
	}
}

// ─── POST /api/cron/process-email-queue ───────────────────────────────────────

func TestProcessEmailQueue_RequiresBearerSecret(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/cron/process-email-queue", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/cron/process-email-queue", nil,
		map[string]string{"Authorization": "Bearer " + testCronSecret})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ─── POST /api/emails/on-summary-complete ─────────────────────────────────────

func TestOnSummaryComplete_RequiresSession(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/on-summary-complete",
		map[string]any{"reportId": uuid.New().String(), "summaryId": uuid.New().String()}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOnSummaryComplete_InvalidIDsReturn400(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/on-summary-complete",
		map[string]any{"reportId": "not-a-uuid", "summaryId": uuid.New().String()}, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOnSummaryComplete_EnqueuesSummaryReady(t *testing.T) {
	deps := newTestServer(t)
	userID, headers := sessionFor(deps)

	report := db.Report{ID: uuid.New(), UserID: userID, Title: sql.NullString{String: "Q3", Valid: true}}
	summary := db.Summary{ID: uuid.New(), ReportID: report.ID, UserID: userID}
	deps.q.reports[report.ID] = report
	deps.q.summaries[summary.ID] = summary

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/on-summary-complete",
		map[string]any{
			"reportId":       report.ID.String(),
			"summaryId":      summary.ID.String(),
			"generationTime": 3.2,
		}, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(deps.enq.calls) == 0 {
		t.Fatal("expected at least the summary_ready enqueue")
	}
	data, ok := deps.enq.calls[0].payload.(email.SummaryReadyData)
	if !ok {
		t.Fatalf("first payload has type %T", deps.enq.calls[0].payload)
	}
	if data.ReportName != "Q3" || data.GenerationTime != 3.2 {
		t.Errorf("payload: %+v", data)
	}
}

func TestOnSummaryComplete_TriggerTroubleStillReturns200(t *testing.T) {
	// Report and summary rows are missing; the trigger engine swallows the
	// failure and the endpoint still acks.
	deps := newTestServer(t)
	_, headers := sessionFor(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/on-summary-complete",
		map[string]any{
			"reportId":  uuid.New().String(),
			"summaryId": uuid.New().String(),
		}, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ─── POST /api/emails/queue ───────────────────────────────────────────────────

func TestQueueEmail_UnknownKindReturns400(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/queue",
		map[string]any{
			"userId":    uuid.New().String(),
			"emailType": "pigeon",
			"data":      map[string]string{"name": "X"},
		}, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestQueueEmail_UnknownUserReturns404(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)
	deps.enq.err = queue.ErrUserNotFound

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/queue",
		map[string]any{
			"userId":    uuid.New().String(),
			"emailType": "welcome",
			"data":      map[string]string{"name": "Ghost"},
		}, headers)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestQueueEmail_ValidRequestQueuesJob(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)
	target := uuid.New()

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/emails/queue",
		map[string]any{
			"userId":    target.String(),
			"emailType": "usage_warning",
			"data": map[string]any{
				"name": "Ada", "reportsUsed": 4, "reportsLimit": 5,
				"resetDate": "September 1, 2026",
			},
		}, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Queued  bool   `json:"queued"`
		EmailID string `json:"emailId"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Queued || resp.EmailID == "" {
		t.Errorf("envelope: %+v", resp)
	}

	if len(deps.enq.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(deps.enq.calls))
	}
	if deps.enq.calls[0].userID != target {
		t.Error("enqueue targeted the wrong user")
	}
	data := deps.enq.calls[0].payload.(email.UsageWarningData)
	if data.ReportsUsed != 4 || data.ResetDate != "September 1, 2026" {
		t.Errorf("payload: %+v", data)
	}
}

// ─── POST /api/auth/callback ──────────────────────────────────────────────────

func TestAuthCallback_FirstLoginSeedsPrefsAndWelcome(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)
	newUser := uuid.New()

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/auth/callback",
		map[string]string{
			"userId": newUser.String(),
			"email":  "fresh@example.com",
			"name":   "Fresh User",
		}, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		FirstLogin bool `json:"firstLogin"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.FirstLogin {
		t.Error("expected firstLogin=true")
	}

	if len(deps.q.defaultPrefsFor) != 1 || deps.q.defaultPrefsFor[0] != newUser {
		t.Errorf("default preferences: got %v", deps.q.defaultPrefsFor)
	}
	if len(deps.enq.calls) != 1 {
		t.Fatalf("expected 1 welcome enqueue, got %d", len(deps.enq.calls))
	}
	welcome := deps.enq.calls[0].payload.(email.WelcomeData)
	if welcome.Name != "Fresh User" {
		t.Errorf("welcome name: got %q", welcome.Name)
	}
}

func TestAuthCallback_RepeatLoginIsQuiet(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)
	deps.q.loginCount = 7 // not the first login

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/auth/callback",
		map[string]string{
			"userId": uuid.New().String(),
			"email":  "regular@example.com",
		}, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(deps.q.defaultPrefsFor) != 0 {
		t.Error("repeat login must not reseed preferences")
	}
	if len(deps.enq.calls) != 0 {
		t.Error("repeat login must not send a welcome email")
	}
}

func TestAuthCallback_MissingEmailReturns400(t *testing.T) {
	deps := newTestServer(t)
	_, headers := sessionFor(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/auth/callback",
		map[string]string{"userId": uuid.New().String()}, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAuthCallback_ExpiredSessionReturns401(t *testing.T) {
	deps := newTestServer(t)
	deps.q.sessions["stale"] = db.Session{
		Token:     "stale",
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/auth/callback",
		map[string]string{"userId": uuid.New().String(), "email": "x@y.com"},
		map[string]string{"Authorization": "Bearer stale"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

func subscriptionEvent(t *testing.T, eventID, eventType string, userID uuid.UUID, priceID, status string) stripeinternal.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":       "sub_123",
		"status":   status,
		"metadata": map[string]string{"user_id": userID.String()},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": priceID}},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return stripeinternal.Event{ID: eventID, Type: eventType, DataRaw: raw}
}

func TestStripeWebhook_InvalidSignatureReturns400(t *testing.T) {
	deps := newTestServer(t)
	deps.stripe.verifyErr = errors.New("invalid signature")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe",
		map[string]string{"type": "customer.subscription.updated"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStripeWebhook_SubscriptionUpdatedSyncsRow(t *testing.T) {
	deps := newTestServer(t)
	userID := uuid.New()
	deps.stripe.verifyEvent = subscriptionEvent(t, "evt_1", "customer.subscription.updated", userID, "price_pro", "active")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(deps.q.upsertedSubs) != 1 {
		t.Fatalf("expected 1 subscription upsert, got %d", len(deps.q.upsertedSubs))
	}
	sub := deps.q.upsertedSubs[0]
	if sub.UserID != userID || sub.PriceID != "price_pro" || sub.Status != "active" {
		t.Errorf("subscription params: %+v", sub)
	}
	if len(deps.q.processedEvents) != 1 {
		t.Error("event must be marked processed")
	}
}

func TestStripeWebhook_SubscriptionDeletedMarksCanceled(t *testing.T) {
	deps := newTestServer(t)
	userID := uuid.New()
	deps.stripe.verifyEvent = subscriptionEvent(t, "evt_2", "customer.subscription.deleted", userID, "price_pro", "active")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(deps.q.upsertedSubs) != 1 || deps.q.upsertedSubs[0].Status != "canceled" {
		t.Errorf("subscription params: %+v", deps.q.upsertedSubs)
	}
}

func TestStripeWebhook_DuplicateEventAcksWithoutReprocessing(t *testing.T) {
	deps := newTestServer(t)
	userID := uuid.New()
	deps.stripe.verifyEvent = subscriptionEvent(t, "evt_dup", "customer.subscription.updated", userID, "price_std", "active")

	first := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: got %d", first.Code)
	}
	second := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("replay must ack: got %d", second.Code)
	}

	if len(deps.q.upsertedSubs) != 1 {
		t.Errorf("replay must not reprocess: got %d upserts", len(deps.q.upsertedSubs))
	}
}

func TestStripeWebhook_UnknownEventTypeReturns200(t *testing.T) {
	deps := newTestServer(t)
	deps.stripe.verifyEvent = stripeinternal.Event{ID: "evt_unknown", Type: "customer.created"}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown event type, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.q.upsertedSubs) != 0 {
		t.Error("unknown events must not touch subscriptions")
	}
}

func TestStripeWebhook_HandlerFailureReturns500AndRecords(t *testing.T) {
	deps := newTestServer(t)
	userID := uuid.New()
	deps.stripe.verifyEvent = subscriptionEvent(t, "evt_bad", "customer.subscription.updated", userID, "price_std", "active")
	deps.q.upsertSubErr = errors.New("constraint violation")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so Stripe retries, got %d", rr.Code)
	}
	if len(deps.q.failedEvents) != 1 {
		t.Error("failure must be recorded on the event row")
	}
}
