package identity

import (
	"strings"
	"time"

	"portalauth/pkg/arcgis"
)

// legacyDefaultLifetime applies when an interchange credential has no
// expiry.
const legacyDefaultLifetime = 2 * time.Hour

// LegacyCredential is the credential interchange format of browser mapping
// SDK identity managers.
type LegacyCredential struct {
	Expires int64  `json:"expires,omitempty"`
	Server  string `json:"server"`
	SSL     *bool  `json:"ssl,omitempty"`
	Token   string `json:"token"`
	UserID  string `json:"userId"`
}

// ServerTopology says what kind of endpoint a LegacyCredential's server is.
type ServerTopology struct {
	Server    string `json:"server"`
	HasPortal bool   `json:"hasPortal,omitempty"`
	HasServer bool   `json:"hasServer,omitempty"`
}

// FromCredential converts an interchange credential into a session. A
// missing ssl flag defaults to true and a missing expiry to two hours from
// now. Server credentials produce a server-scoped session; anything else is
// a portal whose URL gets /sharing/rest appended when missing.
func FromCredential(cred LegacyCredential, topology ServerTopology, opts ...Option) *Session {
	ssl := true
	if cred.SSL != nil {
		ssl = *cred.SSL
	}

	rec := Record{
		Token:    cred.Token,
		Username: cred.UserID,
		SSL:      ssl,
	}
	if topology.HasServer {
		rec.Server = cred.Server
	} else {
		portal := arcgis.CleanURL(cred.Server)
		if !strings.Contains(portal, "sharing/rest") {
			portal += "/sharing/rest"
		}
		rec.Portal = portal
	}

	s := New(rec, opts...)

	expires := time.UnixMilli(cred.Expires)
	if cred.Expires == 0 {
		expires = s.clock.Now().Add(legacyDefaultLifetime)
	}
	s.UpdateToken(cred.Token, expires)
	return s
}

// ToCredential converts the session into the interchange format.
func (s *Session) ToCredential() LegacyCredential {
	rec := s.Record()
	server := rec.Server
	if server == "" {
		server = rec.Portal
	}
	ssl := rec.SSL

	var expires int64
	if !rec.TokenExpires.IsZero() {
		expires = rec.TokenExpires.UnixMilli()
	}
	return LegacyCredential{
		Expires: expires,
		Server:  server,
		SSL:     &ssl,
		Token:   rec.Token,
		UserID:  rec.Username,
	}
}
