package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cloudspb/hostbot/internal/cache/memory"
)

type scriptedChecker struct {
	calls    int
	statuses []Status
	err      error
}

func (s *scriptedChecker) Check(ctx context.Context, userID int64) (Status, error) {
	status := s.statuses[s.calls%len(s.statuses)]
	s.calls++
	return status, s.err
}

func TestCachedChecker(t *testing.T) {
	young := 2 * time.Minute
	tests := []struct {
		name      string
		status    Status
		err       error
		wantCalls int
	}{
		{
			name:      "eligible result is cached",
			status:    Status{IsSubscribed: true, MeetsTimeRequirement: true, Status: StatusMember},
			wantCalls: 1,
		},
		{
			name:      "left is not cached",
			status:    Status{Status: StatusLeft},
			wantCalls: 3,
		},
		{
			name:      "too recent is not cached",
			status:    Status{IsSubscribed: true, Duration: &young, Status: StatusMember},
			wantCalls: 3,
		},
		{
			name:      "errors are not cached",
			status:    Status{IsSubscribed: true, MeetsTimeRequirement: true, Status: StatusMember},
			err:       errors.New("timeout"),
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewCache(time.Hour)
			defer store.Stop()

			next := &scriptedChecker{statuses: []Status{tt.status}, err: tt.err}
			checker := NewCachedChecker(next, store, time.Minute, zerolog.Nop())

			for i := 0; i < 3; i++ {
				status, err := checker.Check(context.Background(), 42)
				require.Equal(t, tt.err, err)
				require.Equal(t, tt.status.IsSubscribed, status.IsSubscribed)
				require.Equal(t, tt.status.Status, status.Status)
			}
			require.Equal(t, tt.wantCalls, next.calls)
		})
	}
}

func TestCachedChecker_PerUser(t *testing.T) {
	store := memory.NewCache(time.Hour)
	defer store.Stop()

	next := &scriptedChecker{statuses: []Status{{IsSubscribed: true, MeetsTimeRequirement: true, Status: StatusCreator}}}
	checker := NewCachedChecker(next, store, time.Minute, zerolog.Nop())

	_, err := checker.Check(context.Background(), 1)
	require.NoError(t, err)
	_, err = checker.Check(context.Background(), 2)
	require.NoError(t, err)
	status, err := checker.Check(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, 2, next.calls)
	require.Equal(t, StatusCreator, status.Status)
	require.True(t, status.MeetsTimeRequirement)
}
