package account

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingNotifier) last(t *testing.T) Notification {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no notifications sent")
	}
	return r.sent[len(r.sent)-1]
}

// tokenFromURL pulls the raw token out of an emailed link.
func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse link %q: %v", raw, err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("link %q carries no token", raw)
	}
	return tok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *InMemory, *recordingNotifier) {
	t.Helper()
	store := NewInMemory()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier, opts...)
	return svc, store, notifier
}

func mustSignup(t *testing.T, svc *Service, company, email, username string) *Account {
	t.Helper()
	acct, err := svc.Signup(context.Background(), SignupInput{
		CompanyName: company,
		Email:       email,
		Username:    username,
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return acct
}

func TestSignupBootstrapsFirstAccount(t *testing.T) {
	svc, _, notifier := newTestService(t)

	acct := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	if !acct.IsApproved {
		t.Fatal("first account should start approved")
	}
	if acct.ParentAccountID != nil {
		t.Fatalf("first account should have no parent, got %v", *acct.ParentAccountID)
	}
	if acct.Role != RoleAdmin {
		t.Fatalf("role = %q, want admin", acct.Role)
	}
	if notifier.count() != 0 {
		t.Fatalf("bootstrap sent %d notifications, want 0", notifier.count())
	}
}

// racingStore widens the gap between the operator lookup and the insert:
// the first misses callers of SuperTenant see no operator even when one
// was created meanwhile, forcing them down the bootstrap path.
type racingStore struct {
	*InMemory
	mu     sync.Mutex
	misses int
}

func (r *racingStore) SuperTenant(ctx context.Context) (*Account, error) {
	r.mu.Lock()
	if r.misses > 0 {
		r.misses--
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	r.mu.Unlock()
	return r.InMemory.SuperTenant(ctx)
}

func TestBootstrapRaceMintsExactlyOneOperator(t *testing.T) {
	store := &racingStore{InMemory: NewInMemory(), misses: 2}
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	first := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	second := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")

	if !first.IsApproved || first.ParentAccountID != nil {
		t.Fatalf("winner should be the approved operator, got %+v", first)
	}
	if second.IsApproved {
		t.Fatal("loser must not come out approved")
	}
	if second.ParentAccountID == nil || *second.ParentAccountID != first.ID {
		t.Fatalf("loser parent = %v, want winner %s", second.ParentAccountID, first.ID)
	}
	super, err := store.InMemory.SuperTenant(context.Background())
	if err != nil {
		t.Fatalf("super tenant: %v", err)
	}
	if super.ID != first.ID {
		t.Fatalf("operator = %s, want %s", super.ID, first.ID)
	}
	if n := notifier.last(t); n.Kind != NoticeApprovalRequest || n.Recipient != first.Email {
		t.Fatalf("loser should request approval from the winner, got %+v", n)
	}
}

func TestConcurrentBootstrapYieldsSingleOperator(t *testing.T) {
	store := &racingStore{InMemory: NewInMemory(), misses: 2}
	svc := NewService(store, &recordingNotifier{})

	var wg sync.WaitGroup
	results := make(chan *Account, 2)
	errs := make(chan error, 2)
	signup := func(company, email, username string) {
		defer wg.Done()
		acct, err := svc.Signup(context.Background(), SignupInput{
			CompanyName: company,
			Email:       email,
			Username:    username,
			Password:    "hunter2hunter2",
		})
		if err != nil {
			errs <- err
			return
		}
		results <- acct
	}
	wg.Add(2)
	go signup("Hireline Ops", "ops@hireline.io", "ops")
	go signup("Acme Talent", "admin@acme.test", "acme")
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("signup failed: %v", err)
	}
	var operators int
	for acct := range results {
		if acct.IsApproved && acct.ParentAccountID == nil {
			operators++
		}
	}
	if operators != 1 {
		t.Fatalf("got %d approved parentless operators, want exactly 1", operators)
	}
}

func TestBootstrapRaceDuplicateStillConflicts(t *testing.T) {
	store := &racingStore{InMemory: NewInMemory(), misses: 2}
	svc := NewService(store, &recordingNotifier{})
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	_, err := svc.Signup(context.Background(), SignupInput{
		CompanyName: "Hireline Clone",
		Email:       "ops@hireline.io",
		Username:    "other",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email during race err = %v, want ErrConflict", err)
	}
}

func TestInMemoryRejectsSecondParentlessAdmin(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Create(ctx, &Account{
		ID: "op-1", CompanyName: "Ops", Email: "ops@hireline.io",
		Username: "ops", Role: RoleAdmin, IsApproved: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("first operator: %v", err)
	}
	err := store.Create(ctx, &Account{
		ID: "op-2", CompanyName: "Other", Email: "other@hireline.io",
		Username: "other", Role: RoleAdmin, IsApproved: true, CreatedAt: now,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second parentless admin err = %v, want ErrConflict", err)
	}
	childID := "op-1"
	if err := store.Create(ctx, &Account{
		ID: "t-1", CompanyName: "Acme", Email: "admin@acme.test",
		Username: "acme", Role: RoleAdmin, ParentAccountID: &childID, CreatedAt: now,
	}); err != nil {
		t.Fatalf("linked admin should be fine: %v", err)
	}
}

type tokenIssueFailStore struct {
	Store
	fail bool
}

func (s *tokenIssueFailStore) CreateApprovalToken(ctx context.Context, tok *ApprovalToken) error {
	if s.fail {
		return errors.New("store: connection lost")
	}
	return s.Store.CreateApprovalToken(ctx, tok)
}

func TestSignupUndoneWhenTokenIssueFails(t *testing.T) {
	mem := NewInMemory()
	failing := &tokenIssueFailStore{Store: mem, fail: true}
	svc := NewService(failing, &recordingNotifier{})
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	ctx := context.Background()
	_, err := svc.Signup(ctx, SignupInput{
		CompanyName: "Acme Talent",
		Email:       "admin@acme.test",
		Username:    "acme",
		Password:    "hunter2hunter2",
	})
	if err == nil {
		t.Fatal("signup should surface the token issue failure")
	}
	if _, err := mem.FindByEmail(ctx, "admin@acme.test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending account left behind, err = %v", err)
	}

	failing.fail = false
	acct := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	if acct.IsApproved {
		t.Fatal("retried signup should go through the normal pending path")
	}
}

func TestSignupPendingWithApprovalNotice(t *testing.T) {
	svc, _, notifier := newTestService(t)
	super := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	acct := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	if acct.IsApproved {
		t.Fatal("second tenant should start pending")
	}
	if acct.ParentAccountID == nil || *acct.ParentAccountID != super.ID {
		t.Fatalf("parent = %v, want %s", acct.ParentAccountID, super.ID)
	}

	n := notifier.last(t)
	if n.Kind != NoticeApprovalRequest {
		t.Fatalf("kind = %q, want %q", n.Kind, NoticeApprovalRequest)
	}
	if n.Recipient != super.Email {
		t.Fatalf("recipient = %q, want %q", n.Recipient, super.Email)
	}
	tokenFromURL(t, n.Data["approve_url"])
}

func TestSignupNormalizesAndRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")

	_, err := svc.Signup(context.Background(), SignupInput{
		CompanyName: "Acme Clone",
		Email:       "  Admin@Acme.Test  ",
		Username:    "other",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email err = %v, want ErrConflict", err)
	}

	_, err = svc.Signup(context.Background(), SignupInput{
		CompanyName: "Acme Clone",
		Email:       "other@acme.test",
		Username:    "ACME",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username err = %v, want ErrConflict", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := []struct {
		name string
		in   SignupInput
	}{
		{"missing company", SignupInput{Email: "a@b.c", Username: "a", Password: "hunter2hunter2"}},
		{"missing email", SignupInput{CompanyName: "A", Username: "a", Password: "hunter2hunter2"}},
		{"malformed email", SignupInput{CompanyName: "A", Email: "not-an-email", Username: "a", Password: "hunter2hunter2"}},
		{"short password", SignupInput{CompanyName: "A", Email: "a@b.c", Username: "a", Password: "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Signup(context.Background(), tc.in); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	pending := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")

	ctx := context.Background()
	if _, err := svc.Login(ctx, "ops@hireline.io", "hunter2hunter2"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if _, err := svc.Login(ctx, "OPS", "hunter2hunter2"); err != nil {
		t.Fatalf("login by username: %v", err)
	}
	if _, err := svc.Login(ctx, "ops@hireline.io", "wrong-password"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong password err = %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.Login(ctx, "nobody@hireline.io", "hunter2hunter2"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unknown identifier err = %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.Login(ctx, pending.Email, "hunter2hunter2"); !errors.Is(err, ErrPendingApproval) {
		t.Fatalf("pending admin err = %v, want ErrPendingApproval", err)
	}
}

func TestApproveByTokenIsSingleUse(t *testing.T) {
	svc, _, notifier := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	pending := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	token := tokenFromURL(t, notifier.last(t).Data["approve_url"])

	ctx := context.Background()
	acct, err := svc.ApproveByToken(ctx, token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if acct.ID != pending.ID || !acct.IsApproved {
		t.Fatalf("redeemed account = %+v, want approved %s", acct, pending.ID)
	}
	if n := notifier.last(t); n.Kind != NoticeAccountApproved || n.Recipient != pending.Email {
		t.Fatalf("approval notice = %+v", n)
	}
	if _, err := svc.Login(ctx, pending.Email, "hunter2hunter2"); err != nil {
		t.Fatalf("login after approval: %v", err)
	}

	if _, err := svc.ApproveByToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second redemption err = %v, want ErrInvalidToken", err)
	}
}

func TestApproveByTokenExpiry(t *testing.T) {
	clock := newTestClock()
	svc, _, notifier := newTestService(t, WithClock(clock.Now), WithApprovalTokenTTL(time.Hour))
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	token := tokenFromURL(t, notifier.last(t).Data["approve_url"])

	clock.Advance(time.Hour + time.Minute)
	if _, err := svc.ApproveByToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestApproveByTokenRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ApproveByToken(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty token err = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.ApproveByToken(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token err = %v, want ErrInvalidToken", err)
	}
}

func TestConcurrentRedemptionApprovesExactlyOnce(t *testing.T) {
	svc, _, notifier := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	token := tokenFromURL(t, notifier.last(t).Data["approve_url"])

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApproveByToken(context.Background(), token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("unexpected redemption error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("got %d successful redemptions, want exactly 1", successes)
	}
}

func TestApproveAndRejectRequireSuperTenant(t *testing.T) {
	svc, _, notifier := newTestService(t)
	super := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")
	tenant := mustSignup(t, svc, "Acme Talent", "admin@acme.test", "acme")
	other := mustSignup(t, svc, "Globex", "admin@globex.test", "globex")

	ctx := context.Background()
	if _, err := svc.Approve(ctx, tenant.ID, other.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-super approve err = %v, want ErrForbidden", err)
	}

	approved, err := svc.Approve(ctx, super.ID, tenant.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.IsApproved || approved.ApprovedAt == nil {
		t.Fatalf("account not marked approved: %+v", approved)
	}
	if n := notifier.last(t); n.Kind != NoticeAccountApproved {
		t.Fatalf("notification kind = %q, want %q", n.Kind, NoticeAccountApproved)
	}

	if _, err := svc.Approve(ctx, super.ID, tenant.ID); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("double approve err = %v, want ErrAlreadyApproved", err)
	}
	if err := svc.Reject(ctx, super.ID, tenant.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject approved err = %v, want ErrInvalidState", err)
	}

	if err := svc.Reject(ctx, super.ID, other.ID); err != nil {
		t.Fatalf("reject pending: %v", err)
	}
	if _, err := svc.Get(ctx, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected account still present, err = %v", err)
	}
}

func TestCreateStaff(t *testing.T) {
	svc, _, _ := newTestService(t)
	super := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	ctx := context.Background()
	staff, err := svc.CreateStaff(ctx, super.ID, StaffInput{
		Email:    "scout@hireline.io",
		Username: "scout",
		Password: "hunter2hunter2",
		Role:     RoleRecruiter,
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if !staff.IsApproved {
		t.Fatal("staff should auto-approve by default")
	}
	if staff.CompanyName != super.CompanyName {
		t.Fatalf("company = %q, want inherited %q", staff.CompanyName, super.CompanyName)
	}
	if staff.ParentAccountID == nil || *staff.ParentAccountID != super.ID {
		t.Fatalf("parent = %v, want %s", staff.ParentAccountID, super.ID)
	}
	if staff.CreatedBy == nil || *staff.CreatedBy != super.ID {
		t.Fatalf("created_by = %v, want %s", staff.CreatedBy, super.ID)
	}

	if _, err := svc.CreateStaff(ctx, super.ID, StaffInput{
		Email:    "boss@hireline.io",
		Username: "boss",
		Password: "hunter2hunter2",
		Role:     RoleAdmin,
	}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("admin role err = %v, want ErrInvalidArgument", err)
	}

	if _, err := svc.CreateStaff(ctx, staff.ID, StaffInput{
		Email:    "peer@hireline.io",
		Username: "peer",
		Password: "hunter2hunter2",
		Role:     RolePartner,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff actor err = %v, want ErrForbidden", err)
	}

	listed, err := svc.ListStaff(ctx, super.ID)
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != staff.ID {
		t.Fatalf("staff list = %+v, want one entry %s", listed, staff.ID)
	}
}

func TestCreateStaffManualApproval(t *testing.T) {
	svc, _, _ := newTestService(t, WithStaffAutoApprove(false))
	super := mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	staff, err := svc.CreateStaff(context.Background(), super.ID, StaffInput{
		Email:    "scout@hireline.io",
		Username: "scout",
		Password: "hunter2hunter2",
		Role:     RolePartner,
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if staff.IsApproved || staff.ApprovedAt != nil {
		t.Fatalf("staff should start pending, got %+v", staff)
	}
}

func TestRequestPasswordResetIsEnumerationSafe(t *testing.T) {
	svc, store, notifier := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	if err := svc.RequestPasswordReset(context.Background(), "stranger@nowhere.test"); err != nil {
		t.Fatalf("unknown email should be silent, got %v", err)
	}
	if store.ResetTokenCount() != 0 {
		t.Fatalf("unknown email minted %d tokens", store.ResetTokenCount())
	}
	if notifier.count() != 0 {
		t.Fatalf("unknown email sent %d notifications", notifier.count())
	}

	if err := svc.RequestPasswordReset(context.Background(), "ops@hireline.io"); err != nil {
		t.Fatalf("known email: %v", err)
	}
	if store.ResetTokenCount() != 1 {
		t.Fatalf("known email minted %d live tokens, want 1", store.ResetTokenCount())
	}
	if n := notifier.last(t); n.Kind != NoticePasswordReset {
		t.Fatalf("kind = %q, want %q", n.Kind, NoticePasswordReset)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, _, notifier := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	ctx := context.Background()
	if err := svc.RequestPasswordReset(ctx, "ops@hireline.io"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := notifier.last(t).Data["token"]

	if err := svc.ResetPassword(ctx, "other@hireline.io", token, "new-password-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong email err = %v, want ErrInvalidToken", err)
	}
	if err := svc.ResetPassword(ctx, "ops@hireline.io", token, "short"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("short password err = %v, want ErrInvalidArgument", err)
	}

	if err := svc.ResetPassword(ctx, "ops@hireline.io", token, "new-password-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := svc.Login(ctx, "ops@hireline.io", "new-password-1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := svc.Login(ctx, "ops@hireline.io", "hunter2hunter2"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password err = %v, want ErrUnauthenticated", err)
	}

	if err := svc.ResetPassword(ctx, "ops@hireline.io", token, "new-password-2"); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("reused token err = %v, want ErrTokenUsed", err)
	}
}

func TestNewResetRequestSupersedesPrior(t *testing.T) {
	svc, store, notifier := newTestService(t)
	mustSignup(t, svc, "Hireline Ops", "ops@hireline.io", "ops")

	ctx := context.Background()
	if err := svc.RequestPasswordReset(ctx, "ops@hireline.io"); err != nil {
		t.Fatal(err)
	}
	first := notifier.last(t).Data["token"]
	if err := svc.RequestPasswordReset(ctx, "ops@hireline.io"); err != nil {
		t.Fatal(err)
	}
	second := notifier.last(t).Data["token"]

	if store.ResetTokenCount() != 1 {
		t.Fatalf("live tokens = %d, want 1 after supersede", store.ResetTokenCount())
	}
	if err := svc.ResetPassword(ctx, "ops@hireline.io", first, "new-password-1"); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("superseded token err = %v, want ErrTokenUsed", err)
	}
	if err := svc.ResetPassword(ctx, "ops@hireline.io", second, "new-password-1"); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}
