package mock

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postForm(t *testing.T, target string, values url.Values) map[string]any {
	t.Helper()
	resp, err := http.Post(target, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(body map[string]any) float64 {
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		return 0
	}
	code, _ := errObj["code"].(float64)
	return code
}

func TestArcGIS_GenerateToken(t *testing.T) {
	fake := NewArcGIS(ArcGISConfig{Username: "casey", Password: "secret"})
	defer fake.Close()

	t.Run("valid credentials", func(t *testing.T) {
		body := postForm(t, fake.PortalURL()+"/generateToken", url.Values{"username": {"casey"}, "password": {"secret"}})
		assert.NotEmpty(t, body["token"])
		assert.NotZero(t, body["expires"])
	})

	t.Run("invalid credentials", func(t *testing.T) {
		body := postForm(t, fake.PortalURL()+"/generateToken", url.Values{"username": {"casey"}, "password": {"wrong"}})
		assert.Equal(t, float64(400), errorCode(body))
	})

	assert.Equal(t, 2, fake.Calls("/portal/sharing/rest/generateToken"))
}

func TestArcGIS_SecuredServer(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	fake := NewArcGIS(ArcGISConfig{
		Clock:   clock,
		Servers: map[string]FakeServer{"fed": {Federated: true, Secured: true}},
	})
	defer fake.Close()

	services := fake.ServerURL("fed") + "/Parcels/MapServer"

	t.Run("token required", func(t *testing.T) {
		body := postForm(t, services, url.Values{})
		assert.Equal(t, float64(499), errorCode(body))
	})

	t.Run("portal token exchanged for server token", func(t *testing.T) {
		portalToken, _ := fake.IssuePortalToken()
		body := postForm(t, fake.URL()+"/fed/tokens/generateToken", url.Values{"token": {portalToken}, "serverUrl": {fake.URL() + "/fed"}})
		serverToken, _ := body["token"].(string)
		require.NotEmpty(t, serverToken)

		body = postForm(t, services, url.Values{"token": {serverToken}})
		assert.Equal(t, true, body["ok"])

		clock.Advance(2 * time.Hour)
		body = postForm(t, services, url.Values{"token": {serverToken}})
		assert.Equal(t, float64(498), errorCode(body))
	})

	t.Run("info names the portal", func(t *testing.T) {
		body := postForm(t, fake.URL()+"/fed/rest/info", url.Values{})
		assert.Equal(t, fake.URL()+"/portal", body["owningSystemUrl"])
		authInfo, _ := body["authInfo"].(map[string]any)
		assert.Equal(t, true, authInfo["isTokenBasedSecurity"])
	})
}

func TestArcGIS_RejectAll(t *testing.T) {
	fake := NewArcGIS(ArcGISConfig{})
	defer fake.Close()

	token, _ := fake.IssuePortalToken()
	fake.SetRejectAll(true)
	body := postForm(t, fake.PortalURL()+"/content/items/abc", url.Values{"token": {token}})
	assert.Equal(t, float64(498), errorCode(body))
}

func TestArcGIS_Routing(t *testing.T) {
	fake := NewArcGIS(ArcGISConfig{
		Username: "casey",
		Password: "secret",
		Servers:  map[string]FakeServer{"public": {}},
	})
	defer fake.Close()

	t.Run("unknown server", func(t *testing.T) {
		body := postForm(t, fake.URL()+"/missing/rest/info", nil)
		assert.Equal(t, float64(404), errorCode(body))
	})

	t.Run("unknown path", func(t *testing.T) {
		body := postForm(t, fake.URL()+"/public/elsewhere", nil)
		assert.Equal(t, float64(404), errorCode(body))
	})

	t.Run("trailing slash", func(t *testing.T) {
		body := postForm(t, fake.URL()+"/public/rest/info/", nil)
		assert.Equal(t, 11.1, body["currentVersion"])
		assert.Equal(t, 1, fake.Calls("/public/rest/info"))
	})

	t.Run("portal resource", func(t *testing.T) {
		token := postForm(t, fake.PortalURL()+"/generateToken", url.Values{"username": {"casey"}, "password": {"secret"}})["token"].(string)
		body := postForm(t, fake.PortalURL()+"/content/items/abc", url.Values{"token": {token}})
		assert.Equal(t, "/content/items/abc", body["path"])
	})

	t.Run("public service", func(t *testing.T) {
		body := postForm(t, fake.ServerURL("public")+"/Parcels/MapServer", nil)
		assert.Equal(t, "public", body["server"])
		assert.Equal(t, "/rest/services/Parcels/MapServer", body["path"])
	})
}
