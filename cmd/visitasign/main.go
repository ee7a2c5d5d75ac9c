// Command visitasign produces the security headers for a request body, for
// trusted tooling and manual testing against a running server.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"visitasegura/go-backend/internal/config"
	"visitasegura/go-backend/internal/requestauth"
)

type output struct {
	Headers   map[string]string   `json:"headers"`
	Canonical requestauth.Payload `json:"canonical"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("visitasign: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	// Config supplies defaults only; an explicit -secret does not need it.
	cfg, cfgErr := config.Load("")
	if errors.Is(cfgErr, config.ErrInsecureSigningSecret) {
		cfgErr = nil
	}

	fs := flag.NewFlagSet("visitasign", flag.ContinueOnError)
	accion := fs.String("accion", "", "value of the accion field")
	datos := fs.String("datos", "", "value of the datosCifrados field")
	tipo := fs.String("tipo", "", "value of the tipo_evento field")
	secret := fs.String("secret", "", "signing secret (default: HASH_SECRET, VISITA_HASH_SECRET or the development secret)")
	derive := fs.Bool("derive-key", cfg.Auth.DeriveKey, "sign with the HKDF-derived subkey (default: VISITA_HASH_DERIVE_KEY)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := strings.TrimSpace(*secret)
	if key == "" {
		if cfgErr != nil {
			return cfgErr
		}
		key = cfg.Auth.Secret
		if key == "" {
			key = config.DefaultSigningSecret
		}
	}

	var fields requestauth.Fields
	if *accion != "" {
		fields.Action = requestauth.String(*accion)
	}
	if *datos != "" {
		fields.EncryptedPayloadRef = requestauth.String(*datos)
	}
	if *tipo != "" {
		fields.EventType = requestauth.String(*tipo)
	}

	signer, err := requestauth.NewSigner(requestauth.Config{Secret: []byte(key), DeriveKey: *derive})
	if err != nil {
		return err
	}
	env, err := signer.Sign(fields)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{
		Headers: map[string]string{
			strings.ToLower(requestauth.HeaderSignature): env.Signature,
			strings.ToLower(requestauth.HeaderTimestamp): fmt.Sprint(env.Timestamp),
			strings.ToLower(requestauth.HeaderNonce):     env.Nonce,
		},
		Canonical: env.Payload,
	}); err != nil {
		return err
	}
	return nil
}
