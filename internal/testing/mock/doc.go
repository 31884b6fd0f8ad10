// Package mock provides test doubles for code that talks to ArcGIS.
//
// ArcGIS is an httptest-backed fake of a portal and any number of ArcGIS
// Servers. The portal answers generateToken, the oauth2 endpoints,
// portals/self and community/self. Each server answers rest/info, its token
// service and services requests, optionally secured and optionally
// federated with the fake portal. Every request is counted per path so tests
// can assert how many lookups and token exchanges a scenario caused.
//
// MockClock is a manually advanced clock. Passing the same MockClock to the
// fake and to the session under test keeps both sides agreeing on expiry.
package mock
