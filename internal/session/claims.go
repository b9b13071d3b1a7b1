package session

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer credential payload. aal and amr follow the hosted
// auth provider's conventions.
type Claims struct {
	Email string      `json:"email,omitempty"`
	AAL   string      `json:"aal,omitempty"`
	AMR   AuthMethods `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// AuthMethods accepts amr as either ["otp"] or [{"method":"otp","timestamp":...}].
type AuthMethods []string

func (m *AuthMethods) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(AuthMethods, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && strings.TrimSpace(obj.Method) != "" {
			out = append(out, strings.TrimSpace(obj.Method))
		}
	}
	*m = out
	return nil
}
