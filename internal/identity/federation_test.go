package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalauth/internal/request"
	"portalauth/internal/testing/mock"
	"portalauth/pkg/arcgis"
)

const (
	infoPath          = "/fed/rest/info"
	serverTokenPath   = "/fed/tokens/generateToken"
	portalTokenPath   = "/portal/sharing/rest/generateToken"
	portalSelfPath    = "/portal/sharing/rest/portals/self"
	oauthTokenPath    = "/portal/sharing/rest/oauth2/token"
	communitySelfPath = "/portal/sharing/rest/community/self"
)

func federatedFake(t *testing.T) (*mock.ArcGIS, *mock.MockClock) {
	return newFake(t, mock.ArcGISConfig{
		Servers: map[string]mock.FakeServer{
			"fed":    {Federated: true, Secured: true},
			"public": {},
			"other":  {Secured: true, OwningSystemURL: "https://other.example.com/portal"},
		},
	})
}

func TestSession_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("portal url uses the portal token", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"}, WithRequester(requester))

		plan, err := s.Resolve(ctx, "https://ORG.example.com/portal/sharing/rest/content/items/abc")
		require.NoError(t, err)
		assert.Equal(t, PlanPortalToken, plan.Kind)
		assert.Empty(t, requester.calls())
	})

	t.Run("portal path on another host or scheme does not get the portal token", func(t *testing.T) {
		for _, target := range []string{
			"https://evil.example.net/proxy/org.example.com/portal/sharing/rest/x",
			"https://evil.example.net/?next=https://org.example.com/portal/sharing/rest",
			"http://org.example.com/portal/sharing/rest/content",
		} {
			requester := &recordingRequester{}
			s := New(Record{Token: "portal-token", Portal: "https://org.example.com/portal/sharing/rest"}, WithRequester(requester))

			plan, err := s.Resolve(ctx, target)
			if err == nil {
				assert.NotEqual(t, PlanPortalToken, plan.Kind, target)
			}
			token, _ := s.GetToken(ctx, target)
			assert.NotEqual(t, "portal-token", token, target)
		}
	})

	t.Run("online service in the portal environment uses the portal token", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://myorg.maps.arcgis.com/sharing/rest"}, WithRequester(requester))

		plan, err := s.Resolve(ctx, "https://services1.arcgis.com/abc/arcgis/rest/services/Parcels/FeatureServer")
		require.NoError(t, err)
		assert.Equal(t, PlanPortalToken, plan.Kind)
		assert.Empty(t, requester.calls())
	})

	t.Run("online service in another environment is looked up", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://myorg.mapsdev.arcgis.com/sharing/rest"}, WithRequester(requester))

		_, err := s.Resolve(ctx, "https://services1.arcgis.com/abc/arcgis/rest/services/Parcels/FeatureServer")
		require.Error(t, err)
		assert.NotEmpty(t, requester.calls())
	})

	t.Run("cached server token matches regardless of host case", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"},
			WithRequester(requester), WithClock(mock.NewMockClock(testStart)))
		s.serverTokens.set("https://myserver.example.com/arcgis", serverToken{token: "st", expires: testStart.Add(time.Hour)})

		plan, err := s.Resolve(ctx, "https://MyServer.Example.com/arcgis/rest/services/Parcels/MapServer")
		require.NoError(t, err)
		assert.Equal(t, PlanCachedServerToken, plan.Kind)
		assert.Equal(t, "https://myserver.example.com/arcgis", plan.Server.URL)
		assert.Empty(t, requester.calls())
	})

	t.Run("path case distinguishes servers", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"},
			WithRequester(requester), WithClock(mock.NewMockClock(testStart)))
		s.trust.populate(nil)
		s.serverTokens.set("https://myserver.example.com/arcgis", serverToken{token: "st", expires: testStart.Add(time.Hour)})

		_, err := s.Resolve(ctx, "https://myserver.example.com/ArcGIS/rest/services/Parcels/MapServer")
		require.Error(t, err)
		assert.Equal(t, []string{"https://myserver.example.com/ArcGIS/rest/info"}, requester.calls())
	})

	t.Run("admin urls are cached separately", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"},
			WithRequester(requester), WithClock(mock.NewMockClock(testStart)))
		s.trust.populate(nil)
		s.serverTokens.set("https://myserver.example.com/arcgis", serverToken{token: "st", expires: testStart.Add(time.Hour)})

		_, err := s.Resolve(ctx, "https://myserver.example.com/arcgis/rest/admin/services/Parcels.MapServer")
		require.Error(t, err)
		assert.Len(t, requester.calls(), 1)
	})

	t.Run("server token expiring exactly now is not used", func(t *testing.T) {
		requester := &recordingRequester{}
		s := New(Record{Token: "t", Portal: "https://org.example.com/portal/sharing/rest"},
			WithRequester(requester), WithClock(mock.NewMockClock(testStart)))
		s.trust.populate(nil)
		s.serverTokens.set("https://myserver.example.com/arcgis", serverToken{token: "st", expires: testStart})

		_, err := s.Resolve(ctx, "https://myserver.example.com/arcgis/rest/services/Parcels/MapServer")
		require.Error(t, err)
		assert.Len(t, requester.calls(), 1)
	})
}

func TestSession_FederatedServerToken(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	ctx := context.Background()
	service := fake.ServerURL("fed") + "/Parcels/MapServer"

	token, err := s.GetToken(ctx, service)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "fed-token-"))

	params := fake.LastParams(serverTokenPath)
	assert.Equal(t, fake.URL()+"/fed", params.Get("serverUrl"))
	assert.Equal(t, "20160", params.Get("expiration"))
	assert.True(t, strings.HasPrefix(params.Get("token"), "portal-token-"))

	again, err := s.GetToken(ctx, fake.ServerURL("fed")+"/Roads/FeatureServer/0")
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.Equal(t, 1, fake.Calls(portalTokenPath))
	assert.Equal(t, 1, fake.Calls(portalSelfPath))
	assert.Equal(t, 1, fake.Calls(infoPath))
	assert.Equal(t, 1, fake.Calls(serverTokenPath))

	cached := s.ServerTokens()
	require.Len(t, cached, 1)
	assert.Equal(t, fake.URL()+"/fed", cached[0].Server)
	assert.True(t, cached[0].Expires.Equal(testStart.Add(time.Hour-arcgis.ServerTokenExpiryMargin)))

	summary := s.Metrics().Summary()
	require.Len(t, summary.Servers, 1)
	assert.Equal(t, int64(1), summary.Servers[0].TokenFetches)
	assert.Equal(t, int64(1), summary.Servers[0].CacheHits)
}

func TestSession_ServerTokenRenewedBeforeExpiry(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	ctx := context.Background()
	service := fake.ServerURL("fed") + "/Parcels/MapServer"

	_, err := s.GetToken(ctx, service)
	require.NoError(t, err)

	clock.Advance(54 * time.Minute)
	_, err = s.GetToken(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls(serverTokenPath))

	clock.Advance(time.Minute)
	_, err = s.GetToken(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls(serverTokenPath))
	assert.Equal(t, 1, fake.Calls(infoPath))
}

func TestSession_ConcurrentCallersShareLookups(t *testing.T) {
	fake, clock := newFake(t, mock.ArcGISConfig{
		Delay:   20 * time.Millisecond,
		Servers: map[string]mock.FakeServer{"fed": {Federated: true, Secured: true}},
	})
	s := passwordSession(fake, clock)
	service := fake.ServerURL("fed") + "/Parcels/MapServer"

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.GetToken(context.Background(), service)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.Equal(t, 1, fake.Calls(portalTokenPath))
	assert.Equal(t, 1, fake.Calls(portalSelfPath))
	assert.Equal(t, 1, fake.Calls(infoPath))
	assert.Equal(t, 1, fake.Calls(serverTokenPath))
}

func TestSession_CanceledCallerDoesNotCancelSharedLookup(t *testing.T) {
	fake, clock := newFake(t, mock.ArcGISConfig{
		Delay:   50 * time.Millisecond,
		Servers: map[string]mock.FakeServer{"fed": {Federated: true, Secured: true}},
	})
	s := passwordSession(fake, clock)
	service := fake.ServerURL("fed") + "/Parcels/MapServer"

	canceled, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.GetToken(canceled, service)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	token, err := s.GetToken(context.Background(), service)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, fake.Calls(portalTokenPath))
}

func TestSession_PublicServerIsAnonymous(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	ctx := context.Background()
	service := fake.ServerURL("public") + "/Basemap/MapServer"

	plan, err := s.Resolve(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, PlanAnonymous, plan.Kind)

	var out map[string]any
	require.NoError(t, s.Do(ctx, service, request.Options{}, &out))
	assert.Equal(t, true, out["ok"])

	assert.Empty(t, fake.LastParams("/public/rest/services/Basemap/MapServer").Get("token"))
	assert.Equal(t, 1, fake.Calls("/public/rest/info"))
}

func TestSession_ChallengedServerIsNotFederated(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	ctx := context.Background()
	service := fake.ServerURL("other") + "/Secret/MapServer"

	err := s.Do(ctx, service, request.Options{Params: map[string]any{"where": "1=1"}}, nil)
	require.Error(t, err)

	var idErr *Error
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, KindNotFederated, idErr.Kind)
	assert.Equal(t, service, idErr.URL)
	assert.Equal(t, "1=1", idErr.Options.Params["where"])
	assert.Contains(t, idErr.Message, "is not federated with "+fake.PortalURL())
	assert.True(t, request.IsAuthError(err))
	assert.Equal(t, 0, fake.Calls("/other/tokens/generateToken"))

	_, err = s.GetToken(ctx, service)
	assert.True(t, IsKind(err, KindNotFederated))
	assert.Equal(t, 1, fake.Calls("/other/rest/services/Secret/MapServer"))
}

func TestSession_ServerTokenExchangeFailure(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	ctx := context.Background()

	_, err := s.GetToken(ctx, fake.PortalURL())
	require.NoError(t, err)

	fake.SetRejectAll(true)
	_, err = s.GetToken(ctx, fake.ServerURL("fed")+"/Parcels/MapServer")
	require.Error(t, err)

	var idErr *Error
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, KindGenerateTokenForServerFailed, idErr.Kind)
	assert.Equal(t, fake.URL()+"/fed/tokens/generateToken", idErr.URL)
	assert.Equal(t, "***", idErr.Options.Params["token"])
	require.NotNil(t, idErr.Response)
	assert.Equal(t, 498, idErr.Response.Code)
	assert.Empty(t, s.ServerTokens())
}

func TestSession_ServerMode(t *testing.T) {
	fake, clock := newFake(t, mock.ArcGISConfig{
		Servers: map[string]mock.FakeServer{"standalone": {Secured: true}},
	})
	s := New(Record{
		Username: testUsername,
		Password: testPassword,
		Server:   fake.ServerURL("standalone"),
	}, WithClock(clock))
	ctx := context.Background()
	service := fake.ServerURL("standalone") + "/Parcels/MapServer"

	var out map[string]any
	require.NoError(t, s.Do(ctx, service, request.Options{}, &out))
	assert.Equal(t, true, out["ok"])

	assert.Equal(t, 1, fake.Calls("/standalone/tokens/generateToken"))
	assert.Equal(t, testUsername, fake.LastParams("/standalone/tokens/generateToken").Get("username"))
	assert.Equal(t, 0, fake.Calls(portalSelfPath))
	assert.Equal(t, request.CredentialsSameOrigin, s.DomainCredentials(service))
}

func TestSession_ManagedCredential(t *testing.T) {
	fake, clock := federatedFake(t)
	s := passwordSession(fake, clock)
	client := request.NewClient()

	var out map[string]any
	err := client.Do(context.Background(), fake.ServerURL("fed")+"/Parcels/MapServer", request.Options{
		Credential: request.Managed(s),
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.True(t, strings.HasPrefix(fake.LastParams("/fed/rest/services/Parcels/MapServer").Get("token"), "fed-token-"))
}
