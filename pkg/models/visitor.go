package models

import (
	"errors"
	"net/url"
	"strings"
)

const unavailable = "no disponible"

var (
	ErrMissingVisitorFields = errors.New("visitor record is missing required fields")
	ErrInvalidCardURL       = errors.New("identity card url is invalid")
)

// Visitor is the identity data read from a national ID card QR code.
type Visitor struct {
	Run       string `json:"run"`
	NumDoc    string `json:"num_doc"`
	Nombres   string `json:"nombres,omitempty"`
	Apellidos string `json:"apellidos,omitempty"`
	FechaNac  string `json:"fecha_nac,omitempty"`
	Sexo      string `json:"sexo,omitempty"`
}

// MissingFields returns the wire names of required fields that are blank.
func (v Visitor) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(v.Run) == "" {
		missing = append(missing, "run")
	}
	if strings.TrimSpace(v.NumDoc) == "" {
		missing = append(missing, "num_doc")
	}
	return missing
}

func (v Visitor) Validate() error {
	if len(v.MissingFields()) > 0 {
		return ErrMissingVisitorFields
	}
	return nil
}

// NormalizeVisitor trims fields and fills the descriptive ones the card QR
// does not carry.
func NormalizeVisitor(v Visitor) Visitor {
	v.Run = strings.ToUpper(strings.TrimSpace(v.Run))
	v.NumDoc = strings.TrimSpace(v.NumDoc)
	v.Nombres = orUnavailable(v.Nombres)
	v.Apellidos = orUnavailable(v.Apellidos)
	v.FechaNac = orUnavailable(v.FechaNac)
	v.Sexo = orUnavailable(v.Sexo)
	return v
}

// VisitorFromCardURL extracts RUN and serial from the URL encoded in the
// card QR, e.g. https://portal.sidiv.registrocivil.cl/docstatus?RUN=12345678-9&type=CEDULA&serial=A123456789.
func VisitorFromCardURL(raw string) (Visitor, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Visitor{}, ErrInvalidCardURL
	}
	q := u.Query()
	v := NormalizeVisitor(Visitor{Run: q.Get("RUN"), NumDoc: q.Get("serial")})
	if err := v.Validate(); err != nil {
		return Visitor{}, err
	}
	return v, nil
}

func orUnavailable(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return unavailable
	}
	return s
}
