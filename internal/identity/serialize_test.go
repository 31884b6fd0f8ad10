package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SerializeRoundTrip(t *testing.T) {
	original := Record{
		Token:               "portal-token",
		TokenExpires:        time.UnixMilli(1705312800000),
		RefreshToken:        "refresh-token",
		RefreshTokenExpires: time.UnixMilli(1706522400000),
		Username:            "casey",
		ClientID:            "app-client",
		Portal:              "https://org.example.com/portal/sharing/rest",
		SSL:                 true,
		TokenDuration:       120,
		RedirectURI:         "https://app.example.com/callback",
		Referer:             "https://app.example.com",
	}
	s := New(original, WithRequester(&recordingRequester{}))

	data, err := s.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data, WithRequester(&recordingRequester{}))
	require.NoError(t, err)

	if diff := cmp.Diff(original, restored.Record()); diff != "" {
		t.Errorf("record mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestRecord_JSONShape(t *testing.T) {
	data, err := json.Marshal(Record{
		Token:        "abc",
		TokenExpires: time.UnixMilli(1705312800000),
		Username:     "casey",
		Portal:       "https://www.arcgis.com/sharing/rest",
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "abc", raw["token"])
	assert.Equal(t, float64(1705312800000), raw["tokenExpires"])
	assert.Equal(t, "casey", raw["username"])
	assert.Equal(t, false, raw["ssl"])
	assert.NotContains(t, raw, "refreshTokenExpires")
	assert.NotContains(t, raw, "password")
}

func TestDeserialize(t *testing.T) {
	t.Run("missing expiry means no expiry", func(t *testing.T) {
		s, err := Deserialize([]byte(`{"token":"abc","portal":"https://www.arcgis.com/sharing/rest"}`),
			WithRequester(&recordingRequester{}))
		require.NoError(t, err)
		assert.True(t, s.Record().TokenExpires.IsZero())
		assert.True(t, s.Record().TokenValid(time.Now()))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Deserialize([]byte(`{`), WithRequester(&recordingRequester{}))
		assert.Error(t, err)
	})
}
