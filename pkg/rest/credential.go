package rest

import "fmt"

const _redacted = "<redacted>"

// Secret holds key material. It never prints or serializes its value.
type Secret string

// Reveal returns the raw secret for signing.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) IsEmpty() bool {
	return len(s) == 0
}

func (Secret) String() string {
	return _redacted
}

func (Secret) GoString() string {
	return _redacted
}

func (Secret) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(_redacted))
}

func (Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + _redacted + `"`), nil
}

func (Secret) MarshalText() ([]byte, error) {
	return []byte(_redacted), nil
}

// Credential is an API key pair.
type Credential struct {
	Key    string `json:"key"`
	Secret Secret `json:"secret"`
}

func (c Credential) IsEmpty() bool {
	return c.Key == "" || c.Secret.IsEmpty()
}
