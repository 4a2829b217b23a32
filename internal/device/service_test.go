package device_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/device"
)

func newService(repo device.Repository) *device.Service {
	return device.NewService(device.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
	})
}

func TestService_Register_CreatesThenUpdates(t *testing.T) {
	repo := device.NewInMemoryRepository()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := device.NewService(device.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return clock },
	})
	ctx := context.Background()

	_, created, err := svc.Register(ctx, "42", "tok-abcd", "iOS")
	require.NoError(t, err)
	assert.True(t, created)

	clock = clock.Add(time.Hour)
	d, created, err := svc.Register(ctx, "43", "tok-abcd", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "43", d.UserID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), d.CreatedAt, "returned record keeps the stored creation time")
	assert.Equal(t, clock, d.UpdatedAt)

	stored := repo.Get("tok-abcd")
	require.NotNil(t, stored)
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, "43", stored.UserID)
	assert.Equal(t, device.PlatformUnknown, stored.Platform)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), stored.CreatedAt)
	assert.Equal(t, clock, stored.UpdatedAt)
}

func TestService_Register_Validation(t *testing.T) {
	svc := newService(device.NewInMemoryRepository())

	tests := []struct {
		name    string
		userID  string
		token   string
		wantErr error
	}{
		{name: "missing user", userID: "", token: "t", wantErr: device.ErrUserIDRequired},
		{name: "blank user", userID: "   ", token: "t", wantErr: device.ErrUserIDRequired},
		{name: "missing token", userID: "u", token: "", wantErr: device.ErrTokenRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tt.userID, tt.token, "android")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Register_ConcurrentSameToken(t *testing.T) {
	repo := device.NewInMemoryRepository()
	svc := newService(repo)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, c, err := svc.Register(context.Background(), fmt.Sprintf("user-%d", i), "shared", "web")
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, repo.Len())
}

func TestService_Tokens(t *testing.T) {
	repo := device.NewInMemoryRepository()
	svc := newService(repo)
	ctx := context.Background()

	res := svc.Tokens(ctx)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Tokens)

	for _, tok := range []string{"a", "b", "c"} {
		_, _, err := svc.Register(ctx, "u", tok, "")
		require.NoError(t, err)
	}

	res = svc.Tokens(ctx)
	require.NoError(t, res.Err)
	sort.Strings(res.Tokens)
	assert.Equal(t, []string{"a", "b", "c"}, res.Tokens)
}

func TestService_Tokens_Error(t *testing.T) {
	svc := newService(failingRepo{err: errors.New("store down")})

	res := svc.Tokens(context.Background())
	assert.Error(t, res.Err)
	assert.Empty(t, res.Tokens)
}

func TestService_Prune(t *testing.T) {
	repo := device.NewInMemoryRepository()
	svc := newService(repo)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "u", "stale", "")
	require.NoError(t, err)

	res := svc.Prune(ctx, "stale")
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, repo.Len())

	// Already gone.
	res = svc.Prune(ctx, "stale")
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Removed)
}

func TestService_Prune_Error(t *testing.T) {
	svc := newService(failingRepo{err: errors.New("store down")})

	res := svc.Prune(context.Background(), "tok")
	assert.Error(t, res.Err)
	assert.Equal(t, "tok", res.Token)
}

func TestNormalizePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want device.Platform
	}{
		{"", device.PlatformUnknown},
		{"  ", device.PlatformUnknown},
		{"ios", device.PlatformIOS},
		{"Android", device.PlatformAndroid},
		{"WEB", device.PlatformWeb},
		{"tvOS", device.Platform("tvOS")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, device.NormalizePlatform(tt.in), "input %q", tt.in)
	}
}

func TestLast4(t *testing.T) {
	assert.Equal(t, "abc", device.Last4("abc"))
	assert.Equal(t, "6789", device.Last4("0123456789"))
}

type failingRepo struct {
	err error
}

func (f failingRepo) Upsert(context.Context, *device.DeviceToken) (bool, error) {
	return false, f.err
}

func (f failingRepo) ListTokens(context.Context) ([]string, error) {
	return nil, f.err
}

func (f failingRepo) DeleteByToken(context.Context, string) (int, error) {
	return 0, f.err
}

func (f failingRepo) Find(context.Context, string) (*device.DeviceToken, error) {
	return nil, f.err
}
