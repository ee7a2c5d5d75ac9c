package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// A wrapped key file is wrapPrefix followed by a JSON wrapFile.
const (
	wrapVersion = 1
	wrapPrefix  = "VSKEY1\n"
	wrapKDF     = "argon2id"
	saltSize    = 16
)

// Upper bounds for argon2 parameters read from disk, so a tampered file
// cannot make bootstrap allocate or spin without limit.
const (
	maxKDFTime     = 16
	maxKDFMemoryKB = 1 << 20
	maxKDFThreads  = 64
)

var ErrKeyUnwrap = errors.New("securestore key file could not be unwrapped")

type kdfParams struct {
	Time     uint32 `json:"t"`
	MemoryKB uint32 `json:"m"`
	Threads  uint8  `json:"p"`
}

var defaultKDFParams = kdfParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

func (p kdfParams) valid() bool {
	return p.Time >= 1 && p.Time <= maxKDFTime &&
		p.MemoryKB >= 8*uint32(p.Threads) && p.MemoryKB <= maxKDFMemoryKB &&
		p.Threads >= 1 && p.Threads <= maxKDFThreads
}

func (p kdfParams) derive(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

type wrapFile struct {
	V          int       `json:"v"`
	KDF        string    `json:"kdf"`
	Params     kdfParams `json:"params"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

func isWrapped(data []byte) bool {
	return bytes.HasPrefix(data, []byte(wrapPrefix))
}

func wrapKey(passphrase string, key []byte) ([]byte, error) {
	return wrapKeyWith(passphrase, key, defaultKDFParams)
}

func wrapKeyWith(passphrase string, key []byte, params kdfParams) ([]byte, error) {
	if !params.valid() {
		return nil, ErrKeyUnwrap
	}
	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	kek := params.derive(passphrase, salt)
	defer zeroBytes(kek)
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(wrapFile{
		V:          wrapVersion,
		KDF:        wrapKDF,
		Params:     params,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(aead.Seal(nil, nonce, key, []byte(wrapPrefix))),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(wrapPrefix), raw...), nil
}

// unwrapKey derives the wrapping key with the parameters recorded in the file.
func unwrapKey(passphrase string, data []byte) ([]byte, error) {
	if !isWrapped(data) {
		return nil, ErrKeyUnwrap
	}
	var f wrapFile
	if err := json.Unmarshal(data[len(wrapPrefix):], &f); err != nil {
		return nil, ErrKeyUnwrap
	}
	if f.V != wrapVersion || f.KDF != wrapKDF || !f.Params.valid() {
		return nil, ErrKeyUnwrap
	}
	salt, err1 := hex.DecodeString(f.Salt)
	nonce, err2 := hex.DecodeString(f.Nonce)
	sealed, err3 := hex.DecodeString(f.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil || len(salt) == 0 || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrKeyUnwrap
	}

	kek := f.Params.derive(passphrase, salt)
	defer zeroBytes(kek)
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	key, err := aead.Open(nil, nonce, sealed, []byte(wrapPrefix))
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	return key, nil
}
