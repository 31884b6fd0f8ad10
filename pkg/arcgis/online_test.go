package arcgis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOnline(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.arcgis.com/sharing/rest", true},
		{"https://myorg.maps.arcgis.com/sharing/rest", true},
		{"https://services1.arcgis.com/ORG/arcgis/rest/services/x", true},
		{"https://basemaps.arcgis.com/arcgis/rest/services/World_Basemap_v2/VectorTileServer", true},
		{"https://mapservices.nps.gov/arcgis/rest/services", false},
		{"https://arcgis.com/sharing/rest", false},
		{"https://gis.city.gov/portal/sharing/rest", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOnline(tt.url))
		})
	}
}

func TestOnlineEnvironment(t *testing.T) {
	tests := []struct {
		url    string
		want   Environment
		wantOK bool
	}{
		{"https://devext.arcgis.com/sharing/rest", EnvironmentDev, true},
		{"https://myorg.mapsdev.arcgis.com/sharing/rest", EnvironmentDev, true},
		{"https://servicesdev.arcgis.com/ORG/arcgis/rest/services/x", EnvironmentDev, true},
		{"https://qaext.arcgis.com/sharing/rest", EnvironmentQA, true},
		{"https://myorg.mapsqa.arcgis.com/sharing/rest", EnvironmentQA, true},
		{"https://servicesqa.arcgis.com/ORG/arcgis/rest/services/x", EnvironmentQA, true},
		{"https://www.arcgis.com/sharing/rest", EnvironmentProduction, true},
		{"https://myorg.maps.arcgis.com/sharing/rest", EnvironmentProduction, true},
		{"https://services8.arcgis.com/ORG/arcgis/rest/services/x", EnvironmentProduction, true},
		{"https://basemaps.arcgis.com/arcgis/rest/services/x", EnvironmentProduction, true},
		{"https://gis.city.gov/portal/sharing/rest", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			env, ok := OnlineEnvironment(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, env)
		})
	}
}

func TestNormalizeOnlinePortalURL(t *testing.T) {
	assert.Equal(t, "https://www.arcgis.com/sharing/rest", NormalizeOnlinePortalURL("https://myorg.maps.arcgis.com/sharing/rest"))
	assert.Equal(t, "https://devext.arcgis.com/sharing/rest", NormalizeOnlinePortalURL("https://myorg.mapsdev.arcgis.com"))
	assert.Equal(t, "https://qaext.arcgis.com/sharing/rest", NormalizeOnlinePortalURL("https://qaext.arcgis.com/sharing/rest"))
	assert.Equal(t, "https://gis.city.gov/portal/sharing/rest", NormalizeOnlinePortalURL("https://gis.city.gov/portal/sharing/rest"))
}

func TestCanUseOnlineToken(t *testing.T) {
	tests := []struct {
		name   string
		portal string
		url    string
		want   bool
	}{
		{"org portal to production services", "https://myorg.maps.arcgis.com/sharing/rest", "https://services1.arcgis.com/ORG/arcgis/rest/services/x/FeatureServer", true},
		{"www portal to production services", "https://www.arcgis.com/sharing/rest", "https://services8.arcgis.com/ORG/arcgis/rest/services/x", true},
		{"dev portal to dev services", "https://devext.arcgis.com/sharing/rest", "https://servicesdev.arcgis.com/ORG/arcgis/rest/services/x", true},
		{"qa portal to production services", "https://qaext.arcgis.com/sharing/rest", "https://services1.arcgis.com/ORG/arcgis/rest/services/x", false},
		{"enterprise portal", "https://gis.city.gov/portal/sharing/rest", "https://services1.arcgis.com/ORG/arcgis/rest/services/x", false},
		{"online portal to enterprise server", "https://www.arcgis.com/sharing/rest", "https://gis.city.gov/server/rest/services/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanUseOnlineToken(tt.portal, tt.url))
		})
	}
}

func TestIsFederated(t *testing.T) {
	tests := []struct {
		name   string
		owning string
		portal string
		want   bool
	}{
		{"enterprise portal", "https://pnp00035.esri.com/portal", "https://pnp00035.esri.com/portal/sharing/rest", true},
		{"case and trailing slash", "https://PNP00035.esri.com/portal/", "https://pnp00035.esri.com/portal/sharing/rest", true},
		{"http and https", "http://pnp00035.esri.com/portal", "https://pnp00035.esri.com/portal/sharing/rest", true},
		{"online org against www", "https://myorg.maps.arcgis.com", "https://www.arcgis.com/sharing/rest", true},
		{"www against online org", "https://www.arcgis.com", "https://myorg.maps.arcgis.com/sharing/rest", true},
		{"online environments differ", "https://qaext.arcgis.com", "http://www.arcgis.com/sharing/rest", false},
		{"different portal", "https://other.esri.com/portal", "https://pnp00035.esri.com/portal/sharing/rest", false},
		{"same host different path", "https://pnp00035.esri.com/other", "https://pnp00035.esri.com/portal/sharing/rest", false},
		{"no owning system", "", "https://pnp00035.esri.com/portal/sharing/rest", false},
		{"no portal", "https://pnp00035.esri.com/portal", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFederated(tt.owning, tt.portal))
		})
	}
}
