package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cloudspb/hostbot/internal/domain"
)

var fakeCreatedAt = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

// fakePanel is an in-memory stand-in for the panel's application API.
type fakePanel struct {
	mu sync.Mutex

	users       []Account
	allocations []Allocation
	eggBound    []Allocation
	servers     map[int64]ServerInfo
	nextID      int64

	failCreateServer bool
	requests         []string
	lastServerReq    createServerRequest
	lastAccountReq   createAccountRequest
	lastAuth         string
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		servers: make(map[int64]ServerInfo),
		nextID:  100,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pageOf[T any](items []T, r *http.Request) list[T] {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	var out list[T]
	start := (page - 1) * perPage
	for i := start; i < len(items) && i < start+perPage; i++ {
		out.Data = append(out.Data, object[T]{Object: "item", Attributes: items[i]})
	}
	out.Meta.Pagination.CurrentPage = page
	out.Meta.Pagination.PerPage = perPage
	out.Meta.Pagination.Total = len(items)
	out.Meta.Pagination.TotalPages = (len(items) + perPage - 1) / perPage
	return out
}

func (f *fakePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.lastAuth = r.Header.Get("Authorization")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/application/users":
		writeJSON(w, http.StatusOK, pageOf(f.users, r))

	case r.Method == http.MethodPost && r.URL.Path == "/api/application/users":
		var req createAccountRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastAccountReq = req
		f.nextID++
		account := Account{ID: f.nextID, Username: req.Username, Email: req.Email, FirstName: req.FirstName, LastName: req.LastName}
		f.users = append(f.users, account)
		writeJSON(w, http.StatusCreated, object[Account]{Object: "user", Attributes: account})

	case r.Method == http.MethodGet && r.URL.Path == "/api/application/nests/1/eggs/3":
		var e egg
		e.ID = 3
		for _, a := range f.eggBound {
			e.Relationships.Allocations.Data = append(e.Relationships.Allocations.Data, object[Allocation]{Attributes: a})
		}
		writeJSON(w, http.StatusOK, object[egg]{Object: "egg", Attributes: e})

	case r.Method == http.MethodGet && r.URL.Path == "/api/application/nodes/1/allocations":
		writeJSON(w, http.StatusOK, pageOf(f.allocations, r))

	case r.Method == http.MethodPost && r.URL.Path == "/api/application/servers":
		if f.failCreateServer {
			http.Error(w, `{"errors":[{"detail":"node full"}]}`, http.StatusUnprocessableEntity)
			return
		}
		var req createServerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastServerReq = req
		f.nextID++
		server := ServerInfo{
			ID:         f.nextID,
			Identifier: fmt.Sprintf("id%06d", f.nextID),
			Name:       req.Name,
			User:       req.User,
			Limits:     req.Limits,
			CreatedAt:  fakeCreatedAt,
		}
		f.servers[server.ID] = server
		writeJSON(w, http.StatusCreated, object[ServerInfo]{Object: "server", Attributes: server})

	case r.Method == http.MethodGet && r.URL.Path == "/api/application/servers":
		servers := make([]ServerInfo, 0, len(f.servers))
		for _, s := range f.servers {
			servers = append(servers, s)
		}
		writeJSON(w, http.StatusOK, pageOf(servers, r))

	default:
		var id int64
		if _, err := fmt.Sscanf(r.URL.Path, "/api/application/servers/%d", &id); err == nil {
			server, ok := f.servers[id]
			switch {
			case !ok:
				http.Error(w, `{"errors":[{"code":"NotFoundHttpException"}]}`, http.StatusNotFound)
			case r.Method == http.MethodGet:
				writeJSON(w, http.StatusOK, object[ServerInfo]{Object: "server", Attributes: server})
			case r.Method == http.MethodDelete:
				delete(f.servers, id)
				w.WriteHeader(http.StatusNoContent)
			}
			return
		}
		var identifier string
		if _, err := fmt.Sscanf(r.URL.Path, "/api/client/servers/%s", &identifier); err == nil && r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "app-key"}, nil, zerolog.Nop())
}

func TestClient_AccountExists(t *testing.T) {
	fake := newFakePanel()
	for i := 0; i < 250; i++ {
		fake.users = append(fake.users, Account{ID: int64(i + 1), Username: fmt.Sprintf("user%d", i), Email: fmt.Sprintf("user%d@example.org", i)})
	}
	client := newTestClient(t, fake)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		username string
		want     bool
	}{
		{name: "both empty", want: false},
		{name: "email on first page", email: "user3@example.org", want: true},
		{name: "username on last page", username: "user249", want: true},
		{name: "either field matches", email: "nobody@example.org", username: "user120", want: true},
		{name: "no match", email: "nobody@example.org", username: "nobody", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exists, err := client.AccountExists(ctx, tt.email, tt.username)
			require.NoError(t, err)
			require.Equal(t, tt.want, exists)
		})
	}

	require.Equal(t, "Bearer app-key", fake.lastAuth)
}

func TestClient_AccountExists_Error(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	exists, err := client.AccountExists(context.Background(), "a@example.org", "")
	require.Error(t, err)
	require.False(t, exists)
	require.ErrorIs(t, err, ErrUnexpectedStatus)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestClient_AccountExists_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil, zerolog.Nop())

	_, err := client.AccountExists(context.Background(), "a@example.org", "")
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestClient_FindAvailableAllocation(t *testing.T) {
	ctx := context.Background()

	t.Run("egg bound allocation wins", func(t *testing.T) {
		fake := newFakePanel()
		fake.eggBound = []Allocation{{ID: 7}}
		fake.allocations = []Allocation{{ID: 1}}

		id, err := newTestClient(t, fake).FindAvailableAllocation(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(7), id)
	})

	t.Run("first unassigned node allocation", func(t *testing.T) {
		fake := newFakePanel()
		fake.allocations = []Allocation{{ID: 1, Assigned: true}, {ID: 2, Assigned: true}, {ID: 3}, {ID: 4}}

		id, err := newTestClient(t, fake).FindAvailableAllocation(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(3), id)
	})

	t.Run("none available", func(t *testing.T) {
		fake := newFakePanel()
		fake.allocations = []Allocation{{ID: 1, Assigned: true}}

		_, err := newTestClient(t, fake).FindAvailableAllocation(ctx)
		require.ErrorIs(t, err, ErrNoAllocation)
	})
}

func TestClient_CreateServerWithCredentials(t *testing.T) {
	fake := newFakePanel()
	fake.allocations = []Allocation{{ID: 42}}
	client := newTestClient(t, fake)

	creds := domain.Credentials{Username: "alice_a1b2c3", Password: "pw", Email: "alice_a1b2c3@cloudspb.ru", UserID: 1}
	server, err := client.CreateServerWithCredentials(context.Background(), creds)
	require.NoError(t, err)

	require.Equal(t, "server_alice_a1b2c3", server.Name)
	require.NotEmpty(t, server.Identifier)
	require.NotZero(t, server.ID)
	require.NotZero(t, server.User)

	require.Equal(t, "TelegramUser", fake.lastAccountReq.LastName)
	require.Equal(t, "ru", fake.lastAccountReq.Language)
	require.Equal(t, creds.Username, fake.lastAccountReq.FirstName)
	require.False(t, fake.lastAccountReq.RootAdmin)

	req := fake.lastServerReq
	require.Equal(t, int64(42), req.Allocation.Default)
	require.Equal(t, int64(1), req.Nest)
	require.Equal(t, int64(3), req.Egg)
	require.Equal(t, "ghcr.io/pterodactyl/yolks:java_21", req.DockerImage)
	require.Equal(t, Limits{Memory: 2048, Swap: 0, Disk: 1000, IO: 500, CPU: 100}, req.Limits)
	require.Equal(t, "server.jar", req.Environment["SERVER_JARFILE"])
	require.Equal(t, "latest", req.Environment["MINECRAFT_VERSION"])
	require.Equal(t, "latest", req.Environment["BUILD_NUMBER"])
}

func TestClient_CreateServerWithCredentials_Failures(t *testing.T) {
	ctx := context.Background()
	creds := domain.Credentials{Username: "bob_000001", Password: "pw", Email: "bob_000001@cloudspb.ru"}

	t.Run("account exists", func(t *testing.T) {
		fake := newFakePanel()
		fake.users = []Account{{ID: 1, Username: "bob_000001"}}

		_, err := newTestClient(t, fake).CreateServerWithCredentials(ctx, creds)
		require.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("no allocation", func(t *testing.T) {
		fake := newFakePanel()

		_, err := newTestClient(t, fake).CreateServerWithCredentials(ctx, creds)
		require.ErrorIs(t, err, ErrNoAllocation)
		require.Contains(t, err.Error(), "find allocation")
	})

	t.Run("server rejected", func(t *testing.T) {
		fake := newFakePanel()
		fake.allocations = []Allocation{{ID: 1}}
		fake.failCreateServer = true

		_, err := newTestClient(t, fake).CreateServerWithCredentials(ctx, creds)
		require.ErrorIs(t, err, ErrUnexpectedStatus)
		require.Contains(t, err.Error(), "create server")
		require.Contains(t, err.Error(), "node full")
	})
}

func TestClient_ServerLifecycle(t *testing.T) {
	fake := newFakePanel()
	fake.allocations = []Allocation{{ID: 1}}
	client := newTestClient(t, fake)
	ctx := context.Background()

	created, err := client.CreateServer(ctx, 5, "server_x", 1)
	require.NoError(t, err)

	info, err := client.GetServerInfo(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Identifier, info.Identifier)
	require.Equal(t, int64(2048), info.Limits.Memory)

	servers, err := client.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.True(t, fakeCreatedAt.Equal(servers[0].CreatedAt))

	require.NoError(t, client.StartServer(ctx, created.Identifier))
	require.NoError(t, client.StopServer(ctx, created.Identifier))

	require.NoError(t, client.DeleteServer(ctx, created.ID))

	_, err = client.GetServerInfo(ctx, created.ID)
	require.ErrorIs(t, err, ErrServerNotFound)

	err = client.DeleteServer(ctx, created.ID)
	require.ErrorIs(t, err, ErrServerNotFound)
}

func TestServerInfo_CreatedAt(t *testing.T) {
	var info ServerInfo
	err := json.Unmarshal([]byte(`{"id":7,"identifier":"1a7ce997","name":"server_x","created_at":"2026-10-15T12:00:00+03:00"}`), &info)
	require.NoError(t, err)
	require.True(t, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC).Equal(info.CreatedAt))

	info = ServerInfo{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"created_at":null}`), &info))
	require.True(t, info.CreatedAt.IsZero())
}
