package arcgis

import (
	"net/url"
	"strings"
)

// Environment is an ArcGIS Online deployment.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentDev        Environment = "dev"
	EnvironmentQA         Environment = "qa"
)

const onlineDomainSuffix = ".arcgis.com"

var environmentPortals = map[Environment]string{
	EnvironmentProduction: "https://www.arcgis.com/sharing/rest",
	EnvironmentDev:        "https://devext.arcgis.com/sharing/rest",
	EnvironmentQA:         "https://qaext.arcgis.com/sharing/rest",
}

func onlineHost(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, onlineDomainSuffix) || host == onlineDomainSuffix[1:] {
		return "", false
	}
	return host, true
}

// IsOnline reports whether rawURL points at an ArcGIS Online host.
func IsOnline(rawURL string) bool {
	_, ok := onlineHost(rawURL)
	return ok
}

// OnlineEnvironment classifies an ArcGIS Online URL by the subdomain label
// directly in front of arcgis.com:
//
//	devext, <org>.mapsdev, servicesdev  -> dev
//	qaext,  <org>.mapsqa,  servicesqa   -> qa
//	www,    <org>.maps,    services1    -> production
//
// ok is false for anything that is not ArcGIS Online.
func OnlineEnvironment(rawURL string) (env Environment, ok bool) {
	host, ok := onlineHost(rawURL)
	if !ok {
		return "", false
	}
	labels := strings.Split(strings.TrimSuffix(host, onlineDomainSuffix), ".")
	subdomain := labels[len(labels)-1]
	switch {
	case strings.Contains(subdomain, "dev"):
		return EnvironmentDev, true
	case strings.Contains(subdomain, "qa"):
		return EnvironmentQA, true
	default:
		return EnvironmentProduction, true
	}
}

// NormalizeOnlinePortalURL maps an ArcGIS Online organization portal to the
// canonical portal of its environment. Other URLs are returned unchanged.
func NormalizeOnlinePortalURL(portal string) string {
	env, ok := OnlineEnvironment(portal)
	if !ok {
		return portal
	}
	return environmentPortals[env]
}

// CanUseOnlineToken reports whether a token issued by portal is accepted by
// requestURL without a server token exchange: both must be ArcGIS Online
// in the same environment.
func CanUseOnlineToken(portal, requestURL string) bool {
	portalEnv, ok := OnlineEnvironment(portal)
	if !ok {
		return false
	}
	requestEnv, ok := OnlineEnvironment(requestURL)
	return ok && portalEnv == requestEnv
}

// IsFederated reports whether a server advertising owningSystemURL trusts
// tokens from portal. The comparison ignores scheme, case, trailing slashes
// and the /sharing/rest suffix; Online organizations compare by environment.
func IsFederated(owningSystemURL, portal string) bool {
	if owningSystemURL == "" || portal == "" {
		return false
	}
	return comparablePortal(owningSystemURL) == comparablePortal(portal)
}

func comparablePortal(rawURL string) string {
	s := strings.ToLower(stripScheme(CleanURL(NormalizeOnlinePortalURL(CleanURL(rawURL)))))
	s = strings.TrimSuffix(s, "/sharing/rest")
	s = strings.TrimSuffix(s, "/sharing")
	return strings.TrimRight(s, "/")
}
