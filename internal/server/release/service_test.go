package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/notify"
	accessrepo "github.com/floodyc/AfterLiving/internal/server/repositories/access"
	auditrepo "github.com/floodyc/AfterLiving/internal/server/repositories/audit"
	jobsrepo "github.com/floodyc/AfterLiving/internal/server/repositories/jobs"
	messagesrepo "github.com/floodyc/AfterLiving/internal/server/repositories/messages"
	plansrepo "github.com/floodyc/AfterLiving/internal/server/repositories/plans"
	requestsrepo "github.com/floodyc/AfterLiving/internal/server/repositories/requests"
	verifiersrepo "github.com/floodyc/AfterLiving/internal/server/repositories/verifiers"
)

// --- fakes shared by service and worker tests ---

type fakePlansRepo struct {
	plans         map[string]*models.LegacyPlan
	statusUpdates map[string]string
}

func (f *fakePlansRepo) Get(ctx context.Context, id string) (*models.LegacyPlan, error) {
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, common.ErrorNotFound
}
func (f *fakePlansRepo) GetForUpdate(ctx context.Context, id string) (*models.LegacyPlan, error) {
	return f.Get(ctx, id)
}
func (f *fakePlansRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	if f.statusUpdates == nil {
		f.statusUpdates = map[string]string{}
	}
	f.statusUpdates[id] = status
	return nil
}

type fakeVerifiersRepo struct {
	byToken  map[string]*models.Verifier
	accepted []*models.Verifier
}

func (f *fakeVerifiersRepo) Create(ctx context.Context, v *models.Verifier) (*models.Verifier, error) {
	return v, nil
}
func (f *fakeVerifiersRepo) GetByID(ctx context.Context, id string) (*models.Verifier, error) {
	return nil, common.ErrorNotFound
}
func (f *fakeVerifiersRepo) GetByToken(ctx context.Context, token string) (*models.Verifier, error) {
	if v, ok := f.byToken[token]; ok {
		return v, nil
	}
	return nil, common.ErrorNotFound
}
func (f *fakeVerifiersRepo) ExistsNonRevoked(ctx context.Context, planID, email string) (bool, error) {
	return false, nil
}
func (f *fakeVerifiersRepo) CountNonRevoked(ctx context.Context, planID string) (int, error) {
	return len(f.accepted), nil
}
func (f *fakeVerifiersRepo) CountAccepted(ctx context.Context, planID string) (int, error) {
	return len(f.accepted), nil
}
func (f *fakeVerifiersRepo) ListAccepted(ctx context.Context, planID string) ([]*models.Verifier, error) {
	return f.accepted, nil
}
func (f *fakeVerifiersRepo) MarkResponded(ctx context.Context, id string, status string) error {
	return nil
}
func (f *fakeVerifiersRepo) MarkRevoked(ctx context.Context, id string) error { return nil }

type fakeRequestsRepo struct {
	reqs      map[string]*models.ReleaseRequest
	pending   bool
	approvals []*models.ReleaseApproval
	tallyErr  error
	decided   map[string]string
	processed []string
}

func (f *fakeRequestsRepo) Create(ctx context.Context, req *models.ReleaseRequest) (*models.ReleaseRequest, error) {
	req.ID = "r-new"
	req.CreatedAt = time.Now()
	if f.reqs == nil {
		f.reqs = map[string]*models.ReleaseRequest{}
	}
	f.reqs[req.ID] = req
	return req, nil
}
func (f *fakeRequestsRepo) Get(ctx context.Context, id string) (*models.ReleaseRequest, error) {
	if r, ok := f.reqs[id]; ok {
		return r, nil
	}
	return nil, common.ErrorNotFound
}
func (f *fakeRequestsRepo) GetForUpdate(ctx context.Context, id string) (*models.ReleaseRequest, error) {
	return f.Get(ctx, id)
}
func (f *fakeRequestsRepo) PendingExists(ctx context.Context, planID string) (bool, error) {
	return f.pending, nil
}
func (f *fakeRequestsRepo) SetDecided(ctx context.Context, id string, status string) error {
	if f.decided == nil {
		f.decided = map[string]string{}
	}
	f.decided[id] = status
	if r, ok := f.reqs[id]; ok {
		r.Status = status
	}
	return nil
}
func (f *fakeRequestsRepo) MarkProcessed(ctx context.Context, id string) error {
	f.processed = append(f.processed, id)
	if r, ok := f.reqs[id]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}
func (f *fakeRequestsRepo) InsertApproval(ctx context.Context, a *models.ReleaseApproval) (*models.ReleaseApproval, error) {
	a.ID = fmt.Sprintf("a-%d", len(f.approvals)+1)
	f.approvals = append(f.approvals, a)
	return a, nil
}
func (f *fakeRequestsRepo) ApprovalExists(ctx context.Context, requestID, verifierID string) (bool, error) {
	for _, a := range f.approvals {
		if a.RequestID == requestID && a.VerifierID == verifierID {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeRequestsRepo) TallyVotes(ctx context.Context, requestID string) (int, int, error) {
	if f.tallyErr != nil {
		return 0, 0, f.tallyErr
	}
	var approvals, denials int
	for _, a := range f.approvals {
		if a.RequestID != requestID {
			continue
		}
		if a.Approved {
			approvals++
		} else {
			denials++
		}
	}
	return approvals, denials, nil
}

type fakeMessagesRepo struct {
	msgs       []*models.VideoMessage
	recipients map[string][]*models.Recipient
	released   []string
	notified   []string
}

func (f *fakeMessagesRepo) Create(ctx context.Context, m *models.VideoMessage) (*models.VideoMessage, error) {
	return m, nil
}
func (f *fakeMessagesRepo) Get(ctx context.Context, id string) (*models.VideoMessage, error) {
	for _, m := range f.msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, common.ErrorNotFound
}
func (f *fakeMessagesRepo) ListReleasable(ctx context.Context, planID string) ([]*models.VideoMessage, error) {
	var out []*models.VideoMessage
	for _, m := range f.msgs {
		if m.PlanID == planID && (m.Status == models.MessageReady || m.Status == models.MessageReleased) {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeMessagesRepo) UpdateStatus(ctx context.Context, id string, from, to string) error {
	return nil
}
func (f *fakeMessagesRepo) MarkReleased(ctx context.Context, id string) error {
	f.released = append(f.released, id)
	for _, m := range f.msgs {
		if m.ID == id {
			m.Status = models.MessageReleased
		}
	}
	return nil
}
func (f *fakeMessagesRepo) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeMessagesRepo) AddRecipient(ctx context.Context, rcp *models.Recipient) (*models.Recipient, error) {
	return rcp, nil
}
func (f *fakeMessagesRepo) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	return nil, common.ErrorNotFound
}
func (f *fakeMessagesRepo) ListRecipients(ctx context.Context, messageID string) ([]*models.Recipient, error) {
	return f.recipients[messageID], nil
}
func (f *fakeMessagesRepo) MarkRecipientNotified(ctx context.Context, id string) error {
	f.notified = append(f.notified, id)
	return nil
}

type fakeAccessRepo struct {
	live    map[string]*models.RecipientAccess // key: messageID + "|" + recipientID
	created []*models.RecipientAccess
	revoked []string
}

func (f *fakeAccessRepo) Create(ctx context.Context, grant *models.RecipientAccess) (*models.RecipientAccess, error) {
	grant.ID = fmt.Sprintf("g-%d", len(f.created)+1)
	f.created = append(f.created, grant)
	return grant, nil
}
func (f *fakeAccessRepo) GetByToken(ctx context.Context, token string) (*models.RecipientAccess, error) {
	for _, g := range f.live {
		if g.Token == token {
			return g, nil
		}
	}
	return nil, common.ErrorNotFound
}
func (f *fakeAccessRepo) GetLive(ctx context.Context, messageID, recipientID string) (*models.RecipientAccess, error) {
	if g, ok := f.live[messageID+"|"+recipientID]; ok {
		return g, nil
	}
	return nil, common.ErrorNotFound
}
func (f *fakeAccessRepo) Revoke(ctx context.Context, id string) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeJobsRepo struct {
	enqueued     []string // request IDs
	done         []string
	dead         []string
	rescheduled  []string
	staleCutoffs []time.Time
	staleCount   int64
}

func (f *fakeJobsRepo) Enqueue(ctx context.Context, requestID, planID string) error {
	f.enqueued = append(f.enqueued, requestID)
	return nil
}
func (f *fakeJobsRepo) ClaimNext(ctx context.Context) (*models.ReleaseJob, error) {
	return nil, common.ErrorNotFound
}
func (f *fakeJobsRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.staleCutoffs = append(f.staleCutoffs, cutoff)
	return f.staleCount, nil
}
func (f *fakeJobsRepo) MarkDone(ctx context.Context, id string) error {
	f.done = append(f.done, id)
	return nil
}
func (f *fakeJobsRepo) Reschedule(ctx context.Context, id string, lastError string, nextRunAt time.Time) error {
	f.rescheduled = append(f.rescheduled, id)
	return nil
}
func (f *fakeJobsRepo) MarkDead(ctx context.Context, id string, lastError string) error {
	f.dead = append(f.dead, id)
	return nil
}

type fakeAuditRepo struct {
	events []*models.AuditEvent
}

func (f *fakeAuditRepo) Append(ctx context.Context, e *models.AuditEvent) (*models.AuditEvent, error) {
	f.events = append(f.events, e)
	return e, nil
}
func (f *fakeAuditRepo) Query(ctx context.Context, filter auditrepo.Filter, limit int) ([]*models.AuditEvent, error) {
	return nil, nil
}

func (f *fakeAuditRepo) actions() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

type fakeRepoManager struct {
	p   *fakePlansRepo
	v   *fakeVerifiersRepo
	r   *fakeRequestsRepo
	m   *fakeMessagesRepo
	acc *fakeAccessRepo
	j   *fakeJobsRepo
	a   *fakeAuditRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error   { return nil }
func (m *fakeRepoManager) Plans(db dbx.DBTX) plansrepo.Repository         { return m.p }
func (m *fakeRepoManager) Verifiers(db dbx.DBTX) verifiersrepo.Repository { return m.v }
func (m *fakeRepoManager) Requests(db dbx.DBTX) requestsrepo.Repository   { return m.r }
func (m *fakeRepoManager) Messages(db dbx.DBTX) messagesrepo.Repository   { return m.m }
func (m *fakeRepoManager) Access(db dbx.DBTX) accessrepo.Repository       { return m.acc }
func (m *fakeRepoManager) Jobs(db dbx.DBTX) jobsrepo.Repository           { return m.j }
func (m *fakeRepoManager) Audit(db dbx.DBTX) auditrepo.Repository         { return m.a }

type captureSink struct {
	addresses []string
	kinds     []notify.Kind
	data      []map[string]string
}

func (s *captureSink) Enqueue(ctx context.Context, address string, kind notify.Kind, data map[string]string) error {
	s.addresses = append(s.addresses, address)
	s.kinds = append(s.kinds, kind)
	s.data = append(s.data, data)
	return nil
}

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// quorumFixture is a 3-verifier plan with threshold 2, all accepted.
func quorumFixture() *fakeRepoManager {
	accepted := []*models.Verifier{
		{ID: "v1", PlanID: "p1", Email: "v1@example.com", Status: models.VerifierAccepted, Token: "tok1"},
		{ID: "v2", PlanID: "p1", Email: "v2@example.com", Status: models.VerifierAccepted, Token: "tok2"},
		{ID: "v3", PlanID: "p1", Email: "v3@example.com", Status: models.VerifierAccepted, Token: "tok3"},
	}
	byToken := map[string]*models.Verifier{}
	for _, v := range accepted {
		byToken[v.Token] = v
	}
	return &fakeRepoManager{
		p:   &fakePlansRepo{plans: map[string]*models.LegacyPlan{"p1": {ID: "p1", ApprovalThreshold: 2, TotalVerifiers: 3, Status: models.PlanActive}}},
		v:   &fakeVerifiersRepo{byToken: byToken, accepted: accepted},
		r:   &fakeRequestsRepo{},
		m:   &fakeMessagesRepo{},
		acc: &fakeAccessRepo{},
		j:   &fakeJobsRepo{},
		a:   &fakeAuditRepo{},
	}
}

func newReleaseService(t *testing.T, db *sql.DB, rm *fakeRepoManager, sink notify.Sink) *Service {
	t.Helper()
	cfg := &config.Config{AdminEmail: "ops@example.com"}
	if sink == nil {
		sink = &captureSink{}
	}
	return NewService(db, rm, cfg, sink)
}

var actor = models.ActorInfo{Actor: "verifier", IP: "10.0.0.1"}

// --- tests ---

func TestOpen_PendingBelowThreshold(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := quorumFixture()
	sink := &captureSink{}
	s := newReleaseService(t, db, rm, sink)

	res, err := s.Open(context.Background(), actor, "p1", "tok1", "she passed last week")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Request.Status != models.RequestPending {
		t.Errorf("status = %q, want PENDING", res.Request.Status)
	}
	if res.Tally.Approvals != 1 || res.Tally.Denials != 0 || res.Tally.Threshold != 2 {
		t.Errorf("tally = %+v", res.Tally)
	}
	if len(rm.j.enqueued) != 0 {
		t.Errorf("no job expected below threshold")
	}

	want := []string{models.AuditReleaseRequested, models.AuditApprovalRecorded}
	got := rm.a.actions()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("audit actions = %v, want %v", got, want)
	}

	// Other accepted verifiers plus the operator get notified; the initiator
	// does not.
	wantAddrs := map[string]bool{"v2@example.com": true, "v3@example.com": true, "ops@example.com": true}
	if len(sink.addresses) != 3 {
		t.Fatalf("notified %v, want 3 addresses", sink.addresses)
	}
	for _, a := range sink.addresses {
		if !wantAddrs[a] {
			t.Errorf("unexpected notification to %q", a)
		}
	}
}

func TestOpen_ThresholdOneApprovesImmediately(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := quorumFixture()
	rm.p.plans["p1"].ApprovalThreshold = 1
	s := newReleaseService(t, db, rm, nil)

	res, err := s.Open(context.Background(), actor, "p1", "tok1", "")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Request.Status != models.RequestApproved {
		t.Errorf("status = %q, want APPROVED", res.Request.Status)
	}
	if len(rm.j.enqueued) != 1 || rm.j.enqueued[0] != res.Request.ID {
		t.Errorf("job not enqueued: %v", rm.j.enqueued)
	}

	got := rm.a.actions()
	if len(got) != 3 || got[2] != models.AuditReleaseApproved {
		t.Errorf("audit actions = %v", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(rm *fakeRepoManager)
		token   string
		want    error
	}{
		{"unknown token", func(rm *fakeRepoManager) {}, "nope", common.ErrNotAuthorized},
		{"invited not accepted", func(rm *fakeRepoManager) {
			rm.v.byToken["tok1"].Status = models.VerifierInvited
		}, "tok1", common.ErrNotAuthorized},
		{"pending request exists", func(rm *fakeRepoManager) { rm.r.pending = true }, "tok1", common.ErrRequestAlreadyExists},
		{"plan not active", func(rm *fakeRepoManager) {
			rm.p.plans["p1"].Status = models.PlanCompleted
		}, "tok1", common.ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newSQLMockDB(t)
			defer db.Close()
			mock.ExpectBegin()
			mock.ExpectRollback()

			rm := quorumFixture()
			tt.mutate(rm)
			s := newReleaseService(t, db, rm, nil)

			_, err := s.Open(context.Background(), actor, "p1", tt.token, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func openPending(t *testing.T, rm *fakeRepoManager) *models.ReleaseRequest {
	t.Helper()
	req, _ := rm.r.Create(context.Background(), &models.ReleaseRequest{
		PlanID:               "p1",
		InitiatingVerifierID: "v1",
		Status:               models.RequestPending,
	})
	rm.r.approvals = append(rm.r.approvals, &models.ReleaseApproval{RequestID: req.ID, VerifierID: "v1", Approved: true})
	return req
}

func TestRespond_ApprovalReachesQuorum(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := quorumFixture()
	req := openPending(t, rm)
	s := newReleaseService(t, db, rm, nil)

	res, err := s.Respond(context.Background(), actor, req.ID, "tok2", true, "confirmed")
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if res.Request.Status != models.RequestApproved {
		t.Errorf("status = %q, want APPROVED", res.Request.Status)
	}
	if res.Tally.Approvals != 2 {
		t.Errorf("tally = %+v", res.Tally)
	}
	if len(rm.j.enqueued) != 1 {
		t.Errorf("job not enqueued")
	}
	if rm.r.decided[req.ID] != models.RequestApproved {
		t.Errorf("request not decided: %v", rm.r.decided)
	}

	got := rm.a.actions()
	if len(got) != 2 || got[0] != models.AuditApprovalRecorded || got[1] != models.AuditReleaseApproved {
		t.Errorf("audit actions = %v", got)
	}
}

func TestRespond_DenialMajorityDenies(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := quorumFixture()
	req := openPending(t, rm)
	s := newReleaseService(t, db, rm, nil)

	// First denial: 1 of 3 accepted, not a majority.
	res, err := s.Respond(context.Background(), actor, req.ID, "tok2", false, "")
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if res.Request.Status != models.RequestPending {
		t.Errorf("after one denial: status = %q, want PENDING", res.Request.Status)
	}

	// Second denial: 2 of 3 is a strict majority.
	res, err = s.Respond(context.Background(), actor, req.ID, "tok3", false, "")
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if res.Request.Status != models.RequestDenied {
		t.Errorf("after two denials: status = %q, want DENIED", res.Request.Status)
	}
	if len(rm.j.enqueued) != 0 {
		t.Errorf("denied request must not enqueue a job")
	}

	got := rm.a.actions()
	if len(got) != 3 || got[2] != models.AuditReleaseDenied {
		t.Errorf("audit actions = %v", got)
	}
}

func TestRespond_Errors(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	rm := quorumFixture()
	req := openPending(t, rm)
	s := newReleaseService(t, db, rm, nil)

	tests := []struct {
		name      string
		requestID string
		token     string
		prep      func()
		want      error
	}{
		{"unknown request", "nope", "tok2", nil, common.ErrorNotFound},
		{"initiator votes twice", req.ID, "tok1", nil, common.ErrAlreadyResponded},
		{"stranger token", req.ID, "outsider", nil, common.ErrNotAuthorized},
		{"decided request", req.ID, "tok2", func() {
			rm.r.reqs[req.ID].Status = models.RequestDenied
		}, common.ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectBegin()
			mock.ExpectRollback()
			if tt.prep != nil {
				tt.prep()
			}
			_, err := s.Respond(context.Background(), actor, tt.requestID, tt.token, true, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRespond_InternalFailureWrapped(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := quorumFixture()
	req := openPending(t, rm)
	rm.r.tallyErr = errors.New("boom")
	s := newReleaseService(t, db, rm, nil)

	_, err := s.Respond(context.Background(), actor, req.ID, "tok2", true, "")
	if !errors.Is(err, common.ErrAuthorizationEvaluationFailed) {
		t.Fatalf("want ErrAuthorizationEvaluationFailed, got %v", err)
	}
}

func TestGet_ReportsTally(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := quorumFixture()
	req := openPending(t, rm)
	s := newReleaseService(t, db, rm, nil)

	res, err := s.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if res.Tally.Approvals != 1 || res.Tally.Threshold != 2 || res.Tally.Accepted != 3 {
		t.Errorf("tally = %+v", res.Tally)
	}
}
