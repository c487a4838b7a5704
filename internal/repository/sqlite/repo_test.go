package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cloudspb/hostbot/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(MemoryPath), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func createUser(t *testing.T, db *DB, id int64, username string) *domain.User {
	t.Helper()

	user := domain.NewUser(id, username, "First"+username, "")
	created, err := NewUserRepository(db).Create(context.Background(), user)
	require.NoError(t, err)
	require.True(t, created)
	return user
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	version, err := db.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	require.NoError(t, db.Migrate(ctx))

	version, err = db.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

// =============================================================================
// User Repository Tests
// =============================================================================

func TestUserRepository_CreateIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)

	created, err := repo.Create(ctx, domain.NewUser(100, "alice", "Alice", ""))
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.Create(ctx, domain.NewUser(100, "renamed", "Other", ""))
	require.NoError(t, err)
	require.False(t, created)

	user, err := repo.GetByTelegramID(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, "Alice", user.FirstName)
	require.False(t, user.IsBanned)
	require.Nil(t, user.Email)
	require.Nil(t, user.SubscriptionCheckedAt)
}

func TestUserRepository_GetMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	_, err := repo.GetByTelegramID(ctx, 1)
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = repo.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_GetByUsername(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	createUser(t, db, 7, "Gamer")

	user, err := NewUserRepository(db).GetByUsername(ctx, "gamer")
	require.NoError(t, err)
	require.Equal(t, int64(7), user.TelegramID)
}

func TestUserRepository_EmailUniqueness(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)
	createUser(t, db, 1, "a")
	createUser(t, db, 2, "b")

	unique, err := repo.IsEmailUnique(ctx, "x@example.org", 0)
	require.NoError(t, err)
	require.True(t, unique)

	require.NoError(t, repo.SetEmail(ctx, 1, "x@example.org"))

	unique, err = repo.IsEmailUnique(ctx, "x@example.org", 0)
	require.NoError(t, err)
	require.False(t, unique)

	// The holder itself is excluded.
	unique, err = repo.IsEmailUnique(ctx, "x@example.org", 1)
	require.NoError(t, err)
	require.True(t, unique)

	err = repo.SetEmail(ctx, 2, "x@example.org")
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	user, err := repo.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "x@example.org", user.EmailOrEmpty())

	err = repo.SetEmail(ctx, 999, "y@example.org")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_BanUnban(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)
	createUser(t, db, 1, "a")
	createUser(t, db, 2, "b")

	require.NoError(t, repo.Ban(ctx, 1, "spam"))
	require.NoError(t, repo.Ban(ctx, 1, "spam again"))

	user, err := repo.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.True(t, user.IsBanned)
	require.Equal(t, "spam again", user.BanReasonOrEmpty())

	banned, err := repo.ListBanned(ctx)
	require.NoError(t, err)
	require.Len(t, banned, 1)
	require.Equal(t, int64(1), banned[0].TelegramID)

	require.NoError(t, repo.Unban(ctx, 1))
	require.NoError(t, repo.Unban(ctx, 1))

	user, err = repo.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.False(t, user.IsBanned)
	require.Nil(t, user.BanReason)

	require.ErrorIs(t, repo.Ban(ctx, 404, "x"), domain.ErrUserNotFound)
}

func TestUserRepository_TouchSubscriptionCheck(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)
	createUser(t, db, 1, "a")

	require.NoError(t, repo.TouchSubscriptionCheck(ctx, 1))

	user, err := repo.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.SubscriptionCheckedAt)
	require.WithinDuration(t, time.Now(), *user.SubscriptionCheckedAt, 5*time.Second)
}

func TestUserRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)

	old := domain.NewUser(1, "old", "Old", "")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	_, err := repo.Create(ctx, old)
	require.NoError(t, err)
	createUser(t, db, 2, "new")

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, int64(1), users[0].TelegramID)

	count, err := repo.CountCreatedSince(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

// =============================================================================
// Account Repository Tests
// =============================================================================

func testRef(remoteID string) domain.AccountRef {
	return domain.AccountRef{
		RemoteID:      remoteID,
		PanelServerID: 11,
		PanelUserID:   22,
		Name:          "server_" + remoteID,
	}
}

func testCreds(userID int64) domain.Credentials {
	return domain.Credentials{
		Username: "alice_a1b2c3",
		Password: "Secr3t!pass#",
		Email:    "alice_a1b2c3@cloudspb.ru",
		UserID:   userID,
	}
}

func TestAccountRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	createUser(t, db, 1, "alice")

	accounts, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, accounts)
	require.Empty(t, accounts)

	account, err := repo.CreateWithCredentials(ctx, 1, testRef("abc123"), testCreds(1))
	require.NoError(t, err)
	require.NotZero(t, account.ID)
	require.Equal(t, domain.AccountStatusActive, account.Status)

	accounts, err = repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	got := accounts[0]
	require.Equal(t, "abc123", got.RemoteID)
	require.Equal(t, int64(11), got.PanelServerID)
	require.Equal(t, int64(22), got.PanelUserID)
	require.Equal(t, "server_abc123", got.Name)
	require.Equal(t, domain.AccountStatusActive, got.Status)
	require.Equal(t, "alice_a1b2c3", got.Username)
	require.Equal(t, "Secr3t!pass#", got.Password)
	require.Equal(t, "alice_a1b2c3@cloudspb.ru", got.Email)

	byRemote, err := repo.GetByRemoteID(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, got.ID, byRemote.ID)
}

func TestAccountRepository_CreateFailures(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	createUser(t, db, 1, "alice")
	createUser(t, db, 2, "bob")

	_, err := repo.CreateWithCredentials(ctx, 404, testRef("ghost"), testCreds(404))
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = repo.CreateWithCredentials(ctx, 1, testRef("dup"), testCreds(1))
	require.NoError(t, err)

	_, err = repo.CreateWithCredentials(ctx, 2, testRef("dup"), testCreds(2))
	require.ErrorIs(t, err, domain.ErrAccountAlreadyExists)

	// Failed attempts leave no rows behind.
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	accounts, err := repo.ListByUser(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestAccountRepository_StatusAndDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	createUser(t, db, 1, "alice")

	_, err := repo.CreateWithCredentials(ctx, 1, testRef("r1"), testCreds(1))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, "r1", domain.AccountStatusError))
	require.ErrorIs(t, repo.UpdateStatus(ctx, "r1", "bogus"), domain.ErrInvalidAccountStatus)
	require.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.AccountStatusActive), domain.ErrAccountNotFound)

	errored, err := repo.ListByStatus(ctx, domain.AccountStatusError)
	require.NoError(t, err)
	require.Len(t, errored, 1)

	active, err := repo.ListByStatus(ctx, domain.AccountStatusActive)
	require.NoError(t, err)
	require.Empty(t, active)

	count, err := repo.CountCreatedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, repo.Delete(ctx, "r1"))
	require.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrAccountNotFound)

	_, err = repo.GetByRemoteID(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

// =============================================================================
// Action Log Repository Tests
// =============================================================================

func TestActionLogRepository_AppendAndListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewActionLogRepository(newTestDB(t))

	entries, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	first := domain.NewAuditLogEntry(9, domain.ActionBanUser, 1, "spam")
	require.NoError(t, repo.Append(ctx, first))
	require.NotZero(t, first.ID)

	second := domain.NewAuditLogEntry(domain.SystemAdminID, domain.ActionReconcileOrphan, 0, "")
	require.NoError(t, repo.Append(ctx, second))

	entries, err = repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, second.ID, entries[0].ID)
	require.Nil(t, entries[0].TargetUserID)
	require.Nil(t, entries[0].Details)

	require.Equal(t, domain.ActionBanUser, entries[1].Action)
	require.Equal(t, int64(1), *entries[1].TargetUserID)
	require.Equal(t, "spam", *entries[1].Details)

	limited, err := repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
