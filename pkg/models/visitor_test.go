package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestVisitorValidate(t *testing.T) {
	if err := (Visitor{Run: "12345678-9", NumDoc: "A1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := Visitor{Run: "  ", Nombres: "Ana"}
	if !errors.Is(v.Validate(), ErrMissingVisitorFields) {
		t.Fatal("expected ErrMissingVisitorFields")
	}
	if got := v.MissingFields(); !reflect.DeepEqual(got, []string{"run", "num_doc"}) {
		t.Fatalf("unexpected missing fields %v", got)
	}
}

func TestNormalizeVisitorFillsUnavailable(t *testing.T) {
	got := NormalizeVisitor(Visitor{Run: " 12345678-k ", NumDoc: " A1 ", Nombres: "Ana"})
	want := Visitor{
		Run:       "12345678-K",
		NumDoc:    "A1",
		Nombres:   "Ana",
		Apellidos: unavailable,
		FechaNac:  unavailable,
		Sexo:      unavailable,
	}
	if got != want {
		t.Fatalf("got %+v", got)
	}
}

func TestVisitorFromCardURL(t *testing.T) {
	v, err := VisitorFromCardURL("https://portal.sidiv.registrocivil.cl/docstatus?RUN=12345678-9&type=CEDULA&serial=A123456789&mrz=x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.Run != "12345678-9" || v.NumDoc != "A123456789" || v.Sexo != unavailable {
		t.Fatalf("unexpected visitor %+v", v)
	}

	cases := []struct {
		raw  string
		want error
	}{
		{"not a url", ErrInvalidCardURL},
		{"/docstatus?RUN=1-9&serial=A", ErrInvalidCardURL},
		{"https://portal.sidiv.registrocivil.cl/docstatus?RUN=1-9", ErrMissingVisitorFields},
	}
	for _, tc := range cases {
		if _, err := VisitorFromCardURL(tc.raw); !errors.Is(err, tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.raw, tc.want, err)
		}
	}
}
