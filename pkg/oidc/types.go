package oidc

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/zitadel/schema"
	"golang.org/x/text/language"
)

// ScopeOpenID is required in every OIDC authorization request.
const ScopeOpenID = "openid"

// AuthMethod is a client authentication method at the token endpoint.
type AuthMethod string

const (
	AuthMethodBasic     AuthMethod = "client_secret_basic"
	AuthMethodPost      AuthMethod = "client_secret_post"
	AuthMethodSecretJWT AuthMethod = "client_secret_jwt"
	AuthMethodNone      AuthMethod = "none"
)

type GrantType string

const (
	GrantTypeCode         GrantType = "authorization_code"
	GrantTypeRefreshToken GrantType = "refresh_token"
)

// Audience handles the `aud` claim, which may be sent
// either as a single JSON string or as an array of strings.
// Any other shape is rejected.
type Audience []string

func (a *Audience) UnmarshalJSON(text []byte) error {
	var i any
	err := json.Unmarshal(text, &i)
	if err != nil {
		return err
	}
	switch aud := i.(type) {
	case []any:
		*a = make([]string, len(aud))
		for i, audience := range aud {
			s, ok := audience.(string)
			if !ok {
				return fmt.Errorf("oidc: invalid audience entry %v", audience)
			}
			(*a)[i] = s
		}
	case string:
		*a = []string{aud}
	default:
		return fmt.Errorf("oidc: invalid audience type %T", i)
	}
	return nil
}

type SpaceDelimitedArray []string

func (s SpaceDelimitedArray) String() string {
	return strings.Join(s, " ")
}

func (s *SpaceDelimitedArray) UnmarshalText(text []byte) error {
	*s = strings.Split(string(text), " ")
	return nil
}

func (s SpaceDelimitedArray) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s SpaceDelimitedArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SpaceDelimitedArray) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = strings.Split(str, " ")
	return nil
}

func (s SpaceDelimitedArray) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *SpaceDelimitedArray) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	switch v := src.(type) {
	case string:
		if len(v) == 0 {
			*s = SpaceDelimitedArray{}
			return nil
		}
		*s = strings.Split(v, " ")
	case []byte:
		if len(v) == 0 {
			*s = SpaceDelimitedArray{}
			return nil
		}
		*s = strings.Split(string(v), " ")
	default:
		return fmt.Errorf("cannot convert %T to SpaceDelimitedArray", src)
	}
	return nil
}

// NewEncoder returns a schema encoder with a registered converter for
// SpaceDelimitedArray, used for form encoding of outbound requests.
func NewEncoder() *schema.Encoder {
	e := schema.NewEncoder()
	e.RegisterEncoder(SpaceDelimitedArray{}, func(value reflect.Value) string {
		return value.Interface().(SpaceDelimitedArray).String()
	})
	return e
}

// Locales handles the `locale` style claims carrying
// space delimited BCP47 language tags. Malformed tags are dropped,
// some providers send non-compliant values.
type Locales []language.Tag

func (l *Locales) UnmarshalText(text []byte) error {
	locales := strings.Split(string(text), " ")
	for _, locale := range locales {
		tag, err := language.Parse(locale)
		if err == nil && !tag.IsRoot() {
			*l = append(*l, tag)
		}
	}
	return nil
}

// Time is a Unix timestamp as used in the `exp`, `iat`
// and `auth_time` claims.
type Time int64

func (ts Time) AsTime() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}

func FromTime(tt time.Time) Time {
	if tt.IsZero() {
		return 0
	}
	return Time(tt.Unix())
}

func NowTime() Time {
	return FromTime(time.Now())
}

func (ts *Time) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("oidc.Time: %w", err)
	}
	switch x := v.(type) {
	case float64:
		*ts = Time(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return fmt.Errorf("oidc.Time: %w", err)
		}
		*ts = Time(n)
	case nil:
		*ts = 0
	default:
		return fmt.Errorf("oidc.Time: unsupported type %T", v)
	}
	return nil
}
