package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/govote/internal/domain/credential"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/model"
	"github.com/bigkaa/govote/internal/domain/rbac"
	"github.com/bigkaa/govote/internal/repository/memstore"
)

var testMember = model.Actor{ID: "member-1", IP: "10.0.0.7", CorrelationID: "corr-m"}

type issuanceFixture struct {
	tally    *tallyFixture
	bridge   *tallyBridge
	credDB   *memstore.DB
	issuance *IssuanceService
}

func newIssuanceFixture(t *testing.T) *issuanceFixture {
	t.Helper()
	tf := newTallyFixture(t)
	bridge := &tallyBridge{elections: tf.elections, tokens: tf.tokens, results: tf.results}
	store, db := memstore.NewCredentialStore()
	svc := NewIssuanceService(store, bridge, NewAuditRecorder(nil, testLogger()),
		IssuanceConfig{TokenTTL: time.Hour, TallyTimeout: time.Second}, testLogger())
	return &issuanceFixture{tally: tf, bridge: bridge, credDB: db, issuance: svc}
}

func TestRequestToken_VoteEndToEnd(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()
	opened := f.tally.openYesNo(t, 1)

	issued, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember)
	if err != nil {
		t.Fatalf("RequestToken() ошибка: %v", err)
	}
	if issued.ElectionID != opened.Election.ID || !credential.IsHex64(issued.Credential) {
		t.Fatalf("RequestToken() = %+v", issued)
	}

	st, err := f.issuance.MyStatus(ctx, testMember.ID, rbac.RoleMember)
	if err != nil {
		t.Fatalf("MyStatus() ошибка: %v", err)
	}
	if st.State != MemberTokenLive || !st.Eligible || st.ExpiresAt == nil {
		t.Errorf("MyStatus() = %+v", st)
	}

	if _, err := f.tally.ballots.Submit(ctx, issued.Credential, []string{"No"}); err != nil {
		t.Fatalf("голос выданным credential: %v", err)
	}

	// После голосования статус остаётся live: факт использования не раскрывается
	st, err = f.issuance.MyStatus(ctx, testMember.ID, rbac.RoleMember)
	if err != nil {
		t.Fatalf("MyStatus() ошибка: %v", err)
	}
	if st.State != MemberTokenLive {
		t.Errorf("State после голосования = %s, ожидали live", st.State)
	}

	stats, err := f.tally.results.Status(ctx, opened.Election.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Tokens.Member != 1 || stats.Tokens.Bulk != 1 {
		t.Errorf("Tokens = %+v", stats.Tokens)
	}

	// Credential Service хранит только дайджест
	for _, mt := range f.credDB.MemberTokens() {
		if mt.TokenHash != credential.Digest(issued.Credential) {
			t.Errorf("TokenHash не совпадает с дайджестом выданного credential")
		}
	}
	entries := f.credDB.AuditEntries()
	if len(entries) != 1 || entries[0].Action != model.AuditTokenIssued || entries[0].ActorID != testMember.ID {
		t.Errorf("аудит Credential Service = %+v", entries)
	}
}

func TestRequestToken_LiveTokenExists(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()
	f.tally.openYesNo(t, 1)

	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); err != nil {
		t.Fatalf("RequestToken() ошибка: %v", err)
	}
	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); !errors.Is(err, ErrLiveTokenExists) {
		t.Fatalf("повторный запрос: ожидали ErrLiveTokenExists, получили %v", err)
	}

	// После истечения выдаётся новый credential
	f.issuance.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	st, err := f.issuance.MyStatus(ctx, testMember.ID, rbac.RoleMember)
	if err != nil || st.State != MemberTokenExpired {
		t.Fatalf("MyStatus() = %+v, %v; ожидали expired", st, err)
	}
	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); err != nil {
		t.Fatalf("повторная выдача после истечения: %v", err)
	}
	if n := len(f.credDB.MemberTokens()); n != 2 {
		t.Errorf("записей выдачи = %d, ожидали 2", n)
	}
}

func TestRequestToken_Eligibility(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()

	admins := model.EligibilityAdmins
	in := yesNoInput()
	in.Eligibility = admins
	e, err := f.tally.elections.Create(ctx, testAdmin, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.tally.elections.Transition(ctx, testAdmin, e.ID, lifecycle.ActionPublish); err != nil {
		t.Fatal(err)
	}

	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("member для admins: ожидали ErrNotEligible, получили %v", err)
	}
	if _, err := f.issuance.RequestToken(ctx, model.Actor{ID: "adm"}, rbac.RoleAdmin); err != nil {
		t.Fatalf("admin для admins: %v", err)
	}
}

func TestRequestToken_NotIssuable(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()

	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); !errors.Is(err, ErrNoCurrentElection) {
		t.Fatalf("без выборов: ожидали ErrNoCurrentElection, получили %v", err)
	}

	opened := f.tally.openYesNo(t, 1)
	if _, err := f.tally.elections.Transition(ctx, testAdmin, opened.Election.ID, lifecycle.ActionPause); err != nil {
		t.Fatal(err)
	}
	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); !errors.Is(err, ErrVotingNotOpen) {
		t.Fatalf("paused: ожидали ErrVotingNotOpen, получили %v", err)
	}
}

func TestRequestToken_TallyUnavailable(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()
	f.tally.openYesNo(t, 1)

	f.bridge.fail = errors.New("connection refused")
	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); !errors.Is(err, ErrTallyUnavailable) {
		t.Fatalf("ожидали ErrTallyUnavailable, получили %v", err)
	}
	if n := len(f.credDB.MemberTokens()); n != 0 {
		t.Errorf("выдача сохранена без регистрации в Tally: %d", n)
	}
	if _, err := f.issuance.Results(ctx, "7f1c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"); !errors.Is(err, ErrResultsUnavailable) {
		t.Errorf("Results(): ожидали ErrResultsUnavailable, получили %v", err)
	}
}

func TestIssuanceResults(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()
	opened := f.tally.openYesNo(t, 2)
	id := opened.Election.ID

	if _, err := f.issuance.Results(ctx, "not-a-uuid"); !errors.Is(err, ErrValidation) {
		t.Errorf("невалидный id: ожидали ErrValidation, получили %v", err)
	}
	if _, err := f.issuance.Results(ctx, id); !errors.Is(err, ErrResultsNotAvailable) {
		t.Errorf("открытые выборы: ожидали ErrResultsNotAvailable, получили %v", err)
	}
	if _, err := f.issuance.Results(ctx, "7f1c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестные выборы: ожидали ErrNotFound, получили %v", err)
	}

	for _, c := range opened.Credentials {
		if _, err := f.tally.ballots.Submit(ctx, c.Credential, []string{"Yes"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.tally.elections.Transition(ctx, testAdmin, id, lifecycle.ActionClose); err != nil {
		t.Fatal(err)
	}
	res, err := f.issuance.Results(ctx, id)
	if err != nil {
		t.Fatalf("Results() ошибка: %v", err)
	}
	if res.TotalBallots != 2 || res.Winner == nil || res.Winner.AnswerID != "Yes" {
		t.Errorf("Results() = %+v", res)
	}
}

func TestRequestToken_FixedTTLWithSchedule(t *testing.T) {
	f := newIssuanceFixture(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	end := base.Add(7 * 24 * time.Hour)
	in := yesNoInput()
	in.ScheduledEnd = &end
	e, err := f.tally.elections.Create(ctx, testAdmin, in)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if _, err := f.tally.elections.Transition(ctx, testAdmin, e.ID, lifecycle.ActionPublish); err != nil {
		t.Fatalf("publish ошибка: %v", err)
	}

	f.issuance.now = func() time.Time { return base }
	issued, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember)
	if err != nil {
		t.Fatalf("RequestToken() ошибка: %v", err)
	}
	if got := issued.ExpiresAt.Sub(base); got != time.Hour {
		t.Errorf("credential участника действует %s, ожидали 1h (TTL, без продления до scheduled_end)", got)
	}

	// Через TTL участник получает новый credential, не дожидаясь scheduled_end
	f.issuance.now = func() time.Time { return base.Add(time.Hour + time.Minute) }
	if _, err := f.issuance.RequestToken(ctx, testMember, rbac.RoleMember); err != nil {
		t.Fatalf("повторная выдача после TTL: %v", err)
	}
}
