package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalauth/internal/testing/mock"
)

func TestSession_RefreshCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh token", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{
			ClientID:            testClientID,
			RefreshToken:        "rt-valid",
			RefreshTokenExpires: testStart.Add(14 * 24 * time.Hour),
			Portal:              fake.PortalURL(),
		}, WithClock(clock))

		rec, err := s.RefreshCredentials(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.Token)
		assert.True(t, rec.TokenExpires.Equal(testStart.Add(time.Hour)))
		assert.Equal(t, "rt-valid", rec.RefreshToken)
		assert.Equal(t, testUsername, rec.Username)
		assert.Equal(t, "refresh_token", fake.LastParams(oauthTokenPath).Get("grant_type"))
	})

	t.Run("refresh token close to expiry is rotated", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{
			ClientID:            testClientID,
			RefreshToken:        "rt-valid",
			RefreshTokenExpires: testStart.Add(time.Hour),
			RedirectURI:         "https://app.example.com/callback",
			Portal:              fake.PortalURL(),
		}, WithClock(clock))

		rec, err := s.RefreshCredentials(ctx)
		require.NoError(t, err)

		params := fake.LastParams(oauthTokenPath)
		assert.Equal(t, "exchange_refresh_token", params.Get("grant_type"))
		assert.Equal(t, "https://app.example.com/callback", params.Get("redirect_uri"))
		assert.NotEqual(t, "rt-valid", rec.RefreshToken)
		assert.True(t, rec.RefreshTokenExpires.Equal(testStart.Add(14*24*time.Hour)))
	})

	t.Run("refresh token preferred over password", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{
			ClientID:     testClientID,
			RefreshToken: "rt-valid",
			Username:     testUsername,
			Password:     testPassword,
			Portal:       fake.PortalURL(),
		}, WithClock(clock))

		_, err := s.RefreshCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fake.Calls(oauthTokenPath))
		assert.Equal(t, 0, fake.Calls(portalTokenPath))
	})

	t.Run("expired refresh token falls back to password", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{
			ClientID:            testClientID,
			RefreshToken:        "rt-valid",
			RefreshTokenExpires: testStart,
			Username:            testUsername,
			Password:            testPassword,
			Portal:              fake.PortalURL(),
		}, WithClock(clock))

		_, err := s.RefreshCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, fake.Calls(oauthTokenPath))
		assert.Equal(t, 1, fake.Calls(portalTokenPath))

		params := fake.LastParams(portalTokenPath)
		assert.Equal(t, "referer", params.Get("client"))
		assert.Equal(t, DefaultReferer, params.Get("referer"))
		assert.Equal(t, "20160", params.Get("expiration"))
	})

	t.Run("nothing to refresh with", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"}, WithRequester(requester))

		_, err := s.RefreshCredentials(ctx)
		require.Error(t, err)

		var idErr *Error
		require.True(t, errors.As(err, &idErr))
		assert.Equal(t, KindTokenRefreshFailed, idErr.Kind)
		assert.Equal(t, "TOKEN_REFRESH_FAILED: Unable to refresh token. No refresh token or password present.", err.Error())
		assert.Empty(t, requester.calls())
		assert.Equal(t, int64(1), s.Metrics().Summary().TotalRefreshFailures)
	})

	t.Run("rejected refresh token", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{ClientID: testClientID, RefreshToken: "rt-revoked", Portal: fake.PortalURL()}, WithClock(clock))

		_, err := s.RefreshCredentials(ctx)
		assert.True(t, IsKind(err, KindTokenRefreshFailed))
	})

	t.Run("rejected rotation", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{RefreshToken: "rt-valid"})
		s := New(Record{
			ClientID:            testClientID,
			RefreshToken:        "rt-revoked",
			RefreshTokenExpires: testStart.Add(time.Hour),
			Portal:              fake.PortalURL(),
		}, WithClock(clock))

		_, err := s.RefreshCredentials(ctx)
		assert.True(t, IsKind(err, KindRefreshTokenExchangeFailed))
	})

	t.Run("wrong password keeps secrets out of the error", func(t *testing.T) {
		fake, clock := newFake(t, mock.ArcGISConfig{})
		s := New(Record{Username: testUsername, Password: "wrong", Portal: fake.PortalURL()}, WithClock(clock))

		_, err := s.RefreshCredentials(ctx)
		require.Error(t, err)

		var idErr *Error
		require.True(t, errors.As(err, &idErr))
		assert.Equal(t, KindTokenRefreshFailed, idErr.Kind)
		assert.Equal(t, "***", idErr.Options.Params["password"])
		require.NotNil(t, idErr.Response)
		assert.Equal(t, 400, idErr.Response.Code)
		assert.Equal(t, "***", idErr.Response.Options.Params["password"])
		assert.Equal(t, "Unable to generate token.", idErr.Message)
	})
}

func TestSession_ExpiredTokenRefreshedOnce(t *testing.T) {
	fake, clock := newFake(t, mock.ArcGISConfig{Delay: 20 * time.Millisecond})
	s := passwordSession(fake, clock)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetToken(context.Background(), fake.PortalURL()+"/content/items/abc")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fake.Calls(portalTokenPath))

	clock.Advance(time.Hour)
	_, err := s.GetToken(context.Background(), fake.PortalURL())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls(portalTokenPath))
}

func TestSession_RefreshClearsCachedUser(t *testing.T) {
	fake, clock := newFake(t, mock.ArcGISConfig{})
	s := passwordSession(fake, clock)
	ctx := context.Background()

	user, err := s.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, testUsername, user.Username)

	_, err = s.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls(communitySelfPath))

	_, err = s.RefreshCredentials(ctx)
	require.NoError(t, err)
	_, err = s.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls(communitySelfPath))
}
