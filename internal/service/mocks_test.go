package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/panel"
)

// =============================================================================
// Panel and credential mocks
// =============================================================================

type mockPanel struct {
	mock.Mock
}

func (m *mockPanel) AccountExists(ctx context.Context, email, username string) (bool, error) {
	args := m.Called(ctx, email, username)
	return args.Bool(0), args.Error(1)
}

func (m *mockPanel) CreateServerWithCredentials(ctx context.Context, creds domain.Credentials) (*panel.ServerInfo, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.ServerInfo), args.Error(1)
}

func (m *mockPanel) GetServerInfo(ctx context.Context, panelServerID int64) (*panel.ServerInfo, error) {
	args := m.Called(ctx, panelServerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.ServerInfo), args.Error(1)
}

func (m *mockPanel) ListServers(ctx context.Context) ([]panel.ServerInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]panel.ServerInfo), args.Error(1)
}

func (m *mockPanel) DeleteServer(ctx context.Context, panelServerID int64) error {
	args := m.Called(ctx, panelServerID)
	return args.Error(0)
}

func (m *mockPanel) StartServer(ctx context.Context, identifier string) error {
	args := m.Called(ctx, identifier)
	return args.Error(0)
}

func (m *mockPanel) StopServer(ctx context.Context, identifier string) error {
	args := m.Called(ctx, identifier)
	return args.Error(0)
}

// sequenceGenerator hands out numbered credentials and counts calls.
type sequenceGenerator struct {
	calls int
}

func (g *sequenceGenerator) Generate(userID int64, displayName string) domain.Credentials {
	g.calls++
	username := fmt.Sprintf("%s_%d", strings.ToLower(displayName), g.calls)
	return domain.Credentials{
		Username: username,
		Password: fmt.Sprintf("Passw0rd!%03d", g.calls),
		Email:    username + "@cloudspb.ru",
		UserID:   userID,
	}
}

// =============================================================================
// In-memory repositories
// =============================================================================

type mockUserRepository struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	touched map[int64]int
	getErr  error
}

func newMockUserRepository(users ...*domain.User) *mockUserRepository {
	m := &mockUserRepository{
		users:   make(map[int64]*domain.User),
		touched: make(map[int64]int),
	}
	for _, u := range users {
		m.users[u.TelegramID] = u
	}
	return m
}

func (m *mockUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[telegramID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.TelegramID]; ok {
		return false, nil
	}
	m.users[user.TelegramID] = user
	return true, nil
}

func (m *mockUserRepository) SetEmail(ctx context.Context, telegramID int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[telegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for id, other := range m.users {
		if id != telegramID && other.EmailOrEmpty() == email {
			return domain.ErrEmailTaken
		}
	}
	u.Email = &email
	return nil
}

func (m *mockUserRepository) IsEmailUnique(ctx context.Context, email string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if id != excludeID && u.EmailOrEmpty() == email {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockUserRepository) TouchSubscriptionCheck(ctx context.Context, telegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[telegramID]++
	return nil
}

func (m *mockUserRepository) Ban(ctx context.Context, telegramID int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[telegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsBanned = true
	u.BanReason = &reason
	return nil
}

func (m *mockUserRepository) Unban(ctx context.Context, telegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[telegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsBanned = false
	u.BanReason = nil
	return nil
}

func (m *mockUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	return result, nil
}

func (m *mockUserRepository) ListBanned(ctx context.Context) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.User
	for _, u := range m.users {
		if u.IsBanned {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockUserRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockUserRepository) user(id int64) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type mockAccountRepository struct {
	mu          sync.Mutex
	accounts    map[string]*domain.HostingAccount
	nextID      int64
	createErr   error
	createCalls int
}

func newMockAccountRepository(accounts ...*domain.HostingAccount) *mockAccountRepository {
	m := &mockAccountRepository{
		accounts: make(map[string]*domain.HostingAccount),
		nextID:   1,
	}
	for _, a := range accounts {
		a.ID = m.nextID
		m.nextID++
		m.accounts[a.RemoteID] = a
	}
	return m
}

func (m *mockAccountRepository) sorted(filter func(*domain.HostingAccount) bool) []*domain.HostingAccount {
	result := make([]*domain.HostingAccount, 0)
	for _, a := range m.accounts {
		if filter(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *mockAccountRepository) ListByUser(ctx context.Context, telegramID int64) ([]*domain.HostingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(a *domain.HostingAccount) bool { return a.UserID == telegramID }), nil
}

func (m *mockAccountRepository) GetByRemoteID(ctx context.Context, remoteID string) (*domain.HostingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[remoteID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockAccountRepository) CreateWithCredentials(ctx context.Context, telegramID int64, ref domain.AccountRef, creds domain.Credentials) (*domain.HostingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.accounts[ref.RemoteID]; ok {
		return nil, domain.ErrAccountAlreadyExists
	}
	a := &domain.HostingAccount{
		ID:            m.nextID,
		UserID:        telegramID,
		RemoteID:      ref.RemoteID,
		PanelServerID: ref.PanelServerID,
		PanelUserID:   ref.PanelUserID,
		Name:          ref.Name,
		Status:        domain.AccountStatusActive,
		Username:      creds.Username,
		Password:      creds.Password,
		Email:         creds.Email,
		CreatedAt:     time.Now().UTC(),
	}
	m.nextID++
	m.accounts[a.RemoteID] = a
	return a, nil
}

func (m *mockAccountRepository) Delete(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[remoteID]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(m.accounts, remoteID)
	return nil
}

func (m *mockAccountRepository) UpdateStatus(ctx context.Context, remoteID string, status domain.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[remoteID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.Status = status
	return nil
}

func (m *mockAccountRepository) List(ctx context.Context) ([]*domain.HostingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*domain.HostingAccount) bool { return true }), nil
}

func (m *mockAccountRepository) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.HostingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(a *domain.HostingAccount) bool { return a.Status == status }), nil
}

func (m *mockAccountRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type mockActionLog struct {
	mu      sync.Mutex
	entries []*domain.AuditLogEntry
}

func (m *mockActionLog) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockActionLog) ListRecent(ctx context.Context, limit int) ([]*domain.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.AuditLogEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, m.entries[i])
	}
	return result, nil
}

func (m *mockActionLog) actions() []domain.ActionKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]domain.ActionKind, len(m.entries))
	for i, e := range m.entries {
		kinds[i] = e.Action
	}
	return kinds
}

// =============================================================================
// Fixtures
// =============================================================================

func testUser(id int64, username, email string) *domain.User {
	u := domain.NewUser(id, username, "Alice", "")
	if email != "" {
		u.Email = &email
	}
	return u
}

func testServer(identifier string) *panel.ServerInfo {
	return &panel.ServerInfo{
		ID:         42,
		Identifier: identifier,
		Name:       panel.ServerNamePrefix + identifier,
		User:       7,
	}
}
