// Package ndc normalizes National Drug Codes and parses the barcode
// symbologies seen at the verification counter.
package ndc

import (
	"strings"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

// An 11-digit canonical NDC is labeler(5)-product(4)-package(2).

// Normalize canonicalizes a 10- or 11-digit NDC, dashed or not, to the
// 11-digit form. Dashed inputs are padded per segment (4-4-2 pads the
// labeler, 5-3-2 the product, 5-4-1 the package); undashed 10-digit
// inputs are left-padded.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", rxerr.ErrInvalidField.WithField("ndc").WithDetail("empty")
	}
	if strings.Contains(s, "-") {
		return normalizeDashed(s)
	}
	if !digitsOnly(s) {
		return "", rxerr.ErrInvalidField.WithField("ndc").WithDetail("non-numeric")
	}
	switch len(s) {
	case 11:
		return s, nil
	case 10:
		return "0" + s, nil
	default:
		return "", rxerr.ErrInvalidField.WithField("ndc").
			WithDetail("expected 10 or 11 digits, got %d", len(s))
	}
}

func normalizeDashed(s string) (string, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return "", rxerr.ErrInvalidField.WithField("ndc").WithDetail("expected 3 dashed segments")
	}
	for _, p := range parts {
		if p == "" || !digitsOnly(p) {
			return "", rxerr.ErrInvalidField.WithField("ndc").WithDetail("non-numeric segment")
		}
	}
	labeler, product, pkg := parts[0], parts[1], parts[2]
	switch {
	case len(labeler) == 4 && len(product) == 4 && len(pkg) == 2:
		labeler = "0" + labeler
	case len(labeler) == 5 && len(product) == 3 && len(pkg) == 2:
		product = "0" + product
	case len(labeler) == 5 && len(product) == 4 && len(pkg) == 1:
		pkg = "0" + pkg
	case len(labeler) == 5 && len(product) == 4 && len(pkg) == 2:
		// already canonical
	default:
		return "", rxerr.ErrInvalidField.WithField("ndc").
			WithDetail("unrecognized segment pattern %d-%d-%d", len(labeler), len(product), len(pkg))
	}
	return labeler + product + pkg, nil
}

// Format renders an 11-digit NDC as 5-4-2.
func Format(canonical string) (string, error) {
	n, err := Normalize(canonical)
	if err != nil {
		return "", err
	}
	return n[:5] + "-" + n[5:9] + "-" + n[9:], nil
}

// SameProduct reports whether two canonical NDCs share labeler and
// product segments (a package variant).
func SameProduct(a, b string) bool {
	return len(a) == 11 && len(b) == 11 && a[:9] == b[:9]
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
