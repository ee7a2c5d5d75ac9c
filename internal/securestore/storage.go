package securestore

import (
	"encoding/hex"
	"encoding/json"
)

const storageVersion = 1

// storedEnvelope is the text form persisted in the datosCifrados column.
// Records written before versioning carry no "v" field.
type storedEnvelope struct {
	Version    int    `json:"v,omitempty"`
	Ciphertext string `json:"cifrado"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Algorithm  string `json:"algorithm"`
}

// MarshalStorage renders env as versioned JSON with hex fields.
func MarshalStorage(env Envelope) (string, error) {
	raw, err := json.Marshal(storedEnvelope{
		Version:    storageVersion,
		Ciphertext: hex.EncodeToString(env.Ciphertext),
		IV:         hex.EncodeToString(env.IV),
		AuthTag:    hex.EncodeToString(env.AuthTag),
		Algorithm:  env.Algorithm,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseStorage decodes the storage text form. Textual problems yield
// ErrMalformedEnvelope; authenticity is only checked by Decrypt.
func ParseStorage(text string) (Envelope, error) {
	var s storedEnvelope
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	if s.Version != 0 && s.Version != storageVersion {
		return Envelope{}, ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(s.Ciphertext)
	if err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil || len(iv) == 0 {
		return Envelope{}, ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(s.AuthTag)
	if err != nil || len(tag) == 0 {
		return Envelope{}, ErrMalformedEnvelope
	}
	alg := s.Algorithm
	if alg == "" {
		alg = AlgorithmAES256GCM
	}
	return Envelope{Ciphertext: ct, IV: iv, AuthTag: tag, Algorithm: alg}, nil
}

// EncryptForStorage encrypts v and returns the storage text form.
func (c *Cipher) EncryptForStorage(v any) (string, error) {
	env, err := c.Encrypt(v)
	if err != nil {
		return "", err
	}
	return MarshalStorage(env)
}

// DecryptFromStorage reverses EncryptForStorage into out.
func (c *Cipher) DecryptFromStorage(text string, out any) error {
	env, err := ParseStorage(text)
	if err != nil {
		c.record("decrypt", "malformed")
		return err
	}
	return c.Decrypt(env, out)
}
