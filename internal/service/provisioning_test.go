package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/metrics"
)

func newProvisioner(accounts *mockAccountRepository, p PanelClient, gen CredentialSource, m *metrics.Metrics) *ProvisioningService {
	return NewProvisioningService(ProvisioningConfig{MaxAttempts: 3}, accounts, p, gen, m, zerolog.Nop())
}

func aliceRequest(progress func(ProgressEvent)) ProvisionRequest {
	return ProvisionRequest{
		UserID:      1001,
		DisplayName: "Alice",
		StoredEmail: "alice@example.org",
		Progress:    progress,
	}
}

func requireCode(t *testing.T, err error, code ProvisionCode) *ProvisionError {
	t.Helper()
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr), "expected *ProvisionError, got %v", err)
	require.Equal(t, code, perr.Code)
	return perr
}

func TestProvision_Success(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}
	m := metrics.New()

	p.On("AccountExists", mock.Anything, "alice@example.org", "").Return(false, nil).Once()
	p.On("AccountExists", mock.Anything, "alice_1@cloudspb.ru", "alice_1").Return(false, nil).Once()
	p.On("CreateServerWithCredentials", mock.Anything, mock.MatchedBy(func(c domain.Credentials) bool {
		return c.Username == "alice_1" && c.UserID == 1001
	})).Return(testServer("abc123"), nil).Once()

	var states []ProvisionState
	result, err := newProvisioner(accounts, p, gen, m).Provision(context.Background(), aliceRequest(func(ev ProgressEvent) {
		states = append(states, ev.State)
	}))
	require.NoError(t, err)

	require.Equal(t, "abc123", result.RemoteID)
	require.Equal(t, int64(42), result.PanelServerID)
	require.Equal(t, "server_abc123", result.Name)
	require.Equal(t, "alice_1", result.Credentials.Username)
	require.Equal(t, "Passw0rd!001", result.Credentials.Password)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, domain.AccountStatusActive, result.Account.Status)
	require.Equal(t, 1, accounts.createCalls)

	require.Equal(t, []ProvisionState{
		StateEligible,
		StateGenerating,
		StateCheckingUniqueness,
		StateCreatingRemote,
		StatePersisting,
		StateDone,
	}, states)

	require.Equal(t, float64(1), testutil.ToFloat64(m.ProvisionOutcomes.WithLabelValues("ok")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.ProvisionInFlight))
	p.AssertExpectations(t)
}

func TestProvision_PanelUnavailable(t *testing.T) {
	accounts := newMockAccountRepository()
	gen := &sequenceGenerator{}

	_, err := newProvisioner(accounts, nil, gen, nil).Provision(context.Background(), aliceRequest(nil))

	perr := requireCode(t, err, CodePanelUnavailable)
	require.ErrorIs(t, err, ErrPanelUnavailable)
	require.Zero(t, perr.Attempts)
	require.Zero(t, gen.calls)
	require.Zero(t, accounts.createCalls)
}

func TestProvision_StoredEmail(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		checkErr error
		wantCode ProvisionCode
		wantErr  error
	}{
		{
			name:     "email already in panel",
			exists:   true,
			wantCode: CodeEmailExists,
			wantErr:  ErrEmailExists,
		},
		{
			name:     "email check fails",
			checkErr: errors.New("connection refused"),
			wantCode: CodeEmailCheckFailed,
			wantErr:  ErrEmailCheckFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := newMockAccountRepository()
			p := &mockPanel{}
			gen := &sequenceGenerator{}
			p.On("AccountExists", mock.Anything, "alice@example.org", "").Return(tt.exists, tt.checkErr).Once()

			_, err := newProvisioner(accounts, p, gen, nil).Provision(context.Background(), aliceRequest(nil))

			requireCode(t, err, tt.wantCode)
			require.ErrorIs(t, err, tt.wantErr)
			require.Zero(t, gen.calls)
			p.AssertNotCalled(t, "CreateServerWithCredentials", mock.Anything, mock.Anything)
			p.AssertExpectations(t)
		})
	}
}

func TestProvision_SkipsEmailCheckWithoutStoredEmail(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}

	p.On("AccountExists", mock.Anything, "alice_1@cloudspb.ru", "alice_1").Return(false, nil).Once()
	p.On("CreateServerWithCredentials", mock.Anything, mock.Anything).Return(testServer("abc123"), nil).Once()

	req := aliceRequest(nil)
	req.StoredEmail = ""
	_, err := newProvisioner(accounts, p, gen, nil).Provision(context.Background(), req)
	require.NoError(t, err)
	p.AssertExpectations(t)
}

func TestProvision_CredentialsExhausted(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}
	m := metrics.New()

	p.On("AccountExists", mock.Anything, "alice@example.org", "").Return(false, nil).Once()
	p.On("AccountExists", mock.Anything, "alice_1@cloudspb.ru", "alice_1").Return(true, nil).Once()
	p.On("AccountExists", mock.Anything, "alice_2@cloudspb.ru", "alice_2").Return(true, nil).Once()
	// A failing check counts as taken.
	p.On("AccountExists", mock.Anything, "alice_3@cloudspb.ru", "alice_3").Return(false, errors.New("timeout")).Once()

	_, err := newProvisioner(accounts, p, gen, m).Provision(context.Background(), aliceRequest(nil))

	perr := requireCode(t, err, CodeUserExistsExhausted)
	require.Equal(t, 3, perr.Attempts)
	require.Equal(t, 3, gen.calls)
	require.Zero(t, accounts.createCalls)
	p.AssertNotCalled(t, "CreateServerWithCredentials", mock.Anything, mock.Anything)
	p.AssertExpectations(t)

	require.Equal(t, float64(1), testutil.ToFloat64(m.ProvisionOutcomes.WithLabelValues("USER_EXISTS_EXHAUSTED")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.ProvisionAttempts))
}

func TestProvision_RetriesAfterCreateFailure(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}

	p.On("AccountExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	p.On("CreateServerWithCredentials", mock.Anything, mock.MatchedBy(func(c domain.Credentials) bool {
		return c.Username != "alice_3"
	})).Return(nil, errors.New("create server: no allocation")).Twice()
	p.On("CreateServerWithCredentials", mock.Anything, mock.MatchedBy(func(c domain.Credentials) bool {
		return c.Username == "alice_3"
	})).Return(testServer("third"), nil).Once()

	var retries []string
	result, err := newProvisioner(accounts, p, gen, nil).Provision(context.Background(), aliceRequest(func(ev ProgressEvent) {
		if ev.State == StateGenerating && ev.Attempt > 0 && ev.Message != "generating credentials" {
			retries = append(retries, ev.Message)
		}
	}))
	require.NoError(t, err)

	require.Equal(t, 3, gen.calls)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, "alice_3", result.Credentials.Username)
	require.Equal(t, 1, accounts.createCalls)
	require.Equal(t, []string{"attempt 1 of 3", "attempt 2 of 3"}, retries)
	p.AssertExpectations(t)
}

func TestProvision_CreateFailsEveryAttempt(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}

	p.On("AccountExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	p.On("CreateServerWithCredentials", mock.Anything, mock.Anything).Return(nil, errors.New("find allocation: no free allocation")).Times(3)

	_, err := newProvisioner(accounts, p, gen, nil).Provision(context.Background(), aliceRequest(nil))

	perr := requireCode(t, err, CodeServerCreateFailed)
	require.ErrorIs(t, err, ErrServerCreateFailed)
	require.Equal(t, "find allocation: no free allocation", perr.Detail)
	require.Equal(t, 3, perr.Attempts)
	require.Zero(t, accounts.createCalls)
	p.AssertExpectations(t)
}

func TestProvision_ServerAttrsMissing(t *testing.T) {
	accounts := newMockAccountRepository()
	p := &mockPanel{}
	gen := &sequenceGenerator{}

	server := testServer("")
	p.On("AccountExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	p.On("CreateServerWithCredentials", mock.Anything, mock.Anything).Return(server, nil).Once()

	_, err := newProvisioner(accounts, p, gen, nil).Provision(context.Background(), aliceRequest(nil))

	requireCode(t, err, CodeServerAttrsMissing)
	require.Zero(t, accounts.createCalls)
}

func TestProvision_PersistFailureLeavesOrphan(t *testing.T) {
	accounts := newMockAccountRepository()
	accounts.createErr = errors.New("database is locked")
	p := &mockPanel{}
	gen := &sequenceGenerator{}
	m := metrics.New()

	p.On("AccountExists", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	p.On("CreateServerWithCredentials", mock.Anything, mock.Anything).Return(testServer("abc123"), nil).Once()

	_, err := newProvisioner(accounts, p, gen, m).Provision(context.Background(), aliceRequest(nil))

	perr := requireCode(t, err, CodeServerSaveFailed)
	require.ErrorIs(t, err, ErrServerSaveFailed)
	require.Contains(t, perr.Detail, "database is locked")
	require.Equal(t, 1, accounts.createCalls)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, float64(1), testutil.ToFloat64(m.ProvisionOrphans))

	// The orphan is left for the reconciler: the orchestrator's panel
	// surface has no way to delete a server.
	_, canDelete := reflect.TypeOf((*PanelClient)(nil)).Elem().MethodByName("DeleteServer")
	require.False(t, canDelete)
}

func TestProvisionError_Format(t *testing.T) {
	err := &ProvisionError{Code: CodeServerCreateFailed, Message: "server creation failed", Detail: "boom"}
	require.Equal(t, "SERVER_CREATE_FAILED: server creation failed: boom", err.Error())

	err = &ProvisionError{Code: CodeEmailExists, Message: "taken"}
	require.Equal(t, "EMAIL_EXISTS: taken", err.Error())
	require.ErrorIs(t, err, ErrEmailExists)
}
