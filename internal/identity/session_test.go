package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"portalauth/internal/request"
	"portalauth/internal/testing/mock"
	"portalauth/pkg/arcgis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var testStart = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

const (
	testUsername = "casey"
	testPassword = "secret"
	testClientID = "app-client"
)

// newFake starts a fake portal sharing a stopped clock with the sessions the
// test creates.
func newFake(t *testing.T, cfg mock.ArcGISConfig) (*mock.ArcGIS, *mock.MockClock) {
	t.Helper()
	clock := mock.NewMockClock(testStart)
	cfg.Clock = clock
	if cfg.Username == "" {
		cfg.Username = testUsername
		cfg.Password = testPassword
	}
	if cfg.ClientID == "" {
		cfg.ClientID = testClientID
	}
	fake := mock.NewArcGIS(cfg)
	t.Cleanup(fake.Close)
	return fake, clock
}

// passwordSession signs into the fake portal with username and password.
func passwordSession(fake *mock.ArcGIS, clock Clock) *Session {
	return New(Record{
		Username: testUsername,
		Password: testPassword,
		Portal:   fake.PortalURL(),
	}, WithClock(clock))
}

// recordingRequester answers every request with err and remembers the URLs.
type recordingRequester struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingRequester) Do(_ context.Context, url string, _ request.Options, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	if r.err != nil {
		return r.err
	}
	return assert.AnError
}

func (r *recordingRequester) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func TestRecord_TokenValid(t *testing.T) {
	now := testStart

	tests := []struct {
		name   string
		record Record
		want   bool
	}{
		{name: "no token", record: Record{}, want: false},
		{name: "no expiry", record: Record{Token: "abc"}, want: true},
		{name: "expires later", record: Record{Token: "abc", TokenExpires: now.Add(time.Second)}, want: true},
		{name: "expires exactly now", record: Record{Token: "abc", TokenExpires: now}, want: false},
		{name: "expired", record: Record{Token: "abc", TokenExpires: now.Add(-time.Second)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.TokenValid(now))
		})
	}
}

func TestRecord_Refreshable(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   bool
	}{
		{name: "empty", record: Record{}, want: false},
		{name: "token only", record: Record{Token: "abc"}, want: false},
		{name: "refresh token with client id", record: Record{ClientID: "id", RefreshToken: "rt"}, want: true},
		{name: "refresh token without client id", record: Record{RefreshToken: "rt"}, want: false},
		{name: "username and password", record: Record{Username: "u", Password: "p"}, want: true},
		{name: "username only", record: Record{Username: "u"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Refreshable())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Run("online portal when nothing is set", func(t *testing.T) {
		s := New(Record{}, WithRequester(&recordingRequester{}))
		rec := s.Record()
		assert.Equal(t, arcgis.DefaultPortal, rec.Portal)
		assert.Equal(t, arcgis.DefaultTokenDuration, rec.TokenDuration)
	})

	t.Run("server only keeps portal empty", func(t *testing.T) {
		s := New(Record{Server: "https://server.example.com/arcgis/rest/services/"}, WithRequester(&recordingRequester{}))
		rec := s.Record()
		assert.Empty(t, rec.Portal)
		assert.Equal(t, "https://server.example.com/arcgis/rest/services", rec.Server)
	})

	t.Run("trailing slash trimmed from portal", func(t *testing.T) {
		s := New(Record{Portal: "https://org.example.com/portal/sharing/rest/"}, WithRequester(&recordingRequester{}))
		assert.Equal(t, "https://org.example.com/portal/sharing/rest", s.Portal())
	})
}

func TestSession_GetTokenWithoutExpiryMakesNoCalls(t *testing.T) {
	requester := &recordingRequester{}
	s := New(Record{Token: "static-token", Portal: "https://org.example.com/portal/sharing/rest"},
		WithRequester(requester), WithClock(mock.NewMockClock(testStart)))

	token, err := s.GetToken(context.Background(), "https://org.example.com/portal/sharing/rest/content/items/abc")
	require.NoError(t, err)
	assert.Equal(t, "static-token", token)
	assert.Empty(t, requester.calls())
}

func TestSession_UpdateToken(t *testing.T) {
	clock := mock.NewMockClock(testStart)
	s := New(Record{Token: "old"}, WithRequester(&recordingRequester{}), WithClock(clock))

	s.UpdateToken("new", testStart.Add(time.Hour))

	rec := s.Record()
	assert.Equal(t, "new", rec.Token)
	assert.True(t, rec.TokenExpires.Equal(testStart.Add(time.Hour)))
}
