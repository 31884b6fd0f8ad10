package identity

import (
	"encoding/json"
	"fmt"
	"time"
)

// recordJSON is the flat persisted form of a Record. Expiries are epoch
// milliseconds.
type recordJSON struct {
	ClientID            string `json:"clientId,omitempty"`
	RefreshToken        string `json:"refreshToken,omitempty"`
	RefreshTokenExpires *int64 `json:"refreshTokenExpires,omitempty"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	Token               string `json:"token,omitempty"`
	TokenExpires        *int64 `json:"tokenExpires,omitempty"`
	Portal              string `json:"portal,omitempty"`
	Server              string `json:"server,omitempty"`
	SSL                 bool   `json:"ssl"`
	TokenDuration       int    `json:"tokenDuration,omitempty"`
	RedirectURI         string `json:"redirectUri,omitempty"`
	Referer             string `json:"referer,omitempty"`
}

func toMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) time.Time {
	if ms == nil || *ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(*ms)
}

// MarshalJSON encodes the record in its flat persisted form.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ClientID:            r.ClientID,
		RefreshToken:        r.RefreshToken,
		RefreshTokenExpires: toMillis(r.RefreshTokenExpires),
		Username:            r.Username,
		Password:            r.Password,
		Token:               r.Token,
		TokenExpires:        toMillis(r.TokenExpires),
		Portal:              r.Portal,
		Server:              r.Server,
		SSL:                 r.SSL,
		TokenDuration:       r.TokenDuration,
		RedirectURI:         r.RedirectURI,
		Referer:             r.Referer,
	})
}

// UnmarshalJSON decodes the flat persisted form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		ClientID:            raw.ClientID,
		RefreshToken:        raw.RefreshToken,
		RefreshTokenExpires: fromMillis(raw.RefreshTokenExpires),
		Username:            raw.Username,
		Password:            raw.Password,
		Token:               raw.Token,
		TokenExpires:        fromMillis(raw.TokenExpires),
		Portal:              raw.Portal,
		Server:              raw.Server,
		SSL:                 raw.SSL,
		TokenDuration:       raw.TokenDuration,
		RedirectURI:         raw.RedirectURI,
		Referer:             raw.Referer,
	}
	return nil
}

// Serialize encodes the credential record so an equivalent session can be
// rebuilt with Deserialize. Server tokens and cached lookups are not kept.
func (s *Session) Serialize() ([]byte, error) {
	return json.Marshal(s.Record())
}

// Deserialize rebuilds a session from Serialize output without any network
// call.
func Deserialize(data []byte, opts ...Option) (*Session, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return New(rec, opts...), nil
}
