package ndc

import (
	"strings"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

// BarcodeFormat identifies the recognized symbology of a scan.
type BarcodeFormat string

const (
	FormatUPCA   BarcodeFormat = "upc_a"
	FormatRaw    BarcodeFormat = "raw_ndc"
	FormatDashed BarcodeFormat = "dashed_ndc"
	FormatGS1    BarcodeFormat = "gs1_datamatrix"
)

// ErrUnrecognizedBarcode is the typed parse failure for scans that match
// no supported symbology.
var ErrUnrecognizedBarcode = rxerr.ErrInvalidField.WithField("barcode").
	WithDetail("unrecognized barcode format")

// ParseBarcode decodes a counter scan into a canonical 11-digit NDC.
// Accepted inputs:
//   - UPC-A: 12 digits; drop the number-system digit and check digit.
//   - Raw NDC: 10 or 11 digits.
//   - Dashed NDC: 4-4-2, 5-3-2, 5-4-1 or 5-4-2.
//   - GS1 DataMatrix: "01" AI followed by a GTIN-14; strip the
//     indicator digit, check digit and leading zeros.
func ParseBarcode(raw string) (string, BarcodeFormat, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", ErrUnrecognizedBarcode
	}

	if strings.Contains(s, "-") {
		n, err := Normalize(s)
		if err != nil {
			return "", "", ErrUnrecognizedBarcode
		}
		return n, FormatDashed, nil
	}

	if strings.HasPrefix(s, "01") && len(s) == 16 && digitsOnly(s) {
		gtin := s[2:] // 14 digits: indicator, "03", NDC10, check
		inner := strings.TrimLeft(gtin[1:len(gtin)-1], "0")
		inner = strings.TrimPrefix(inner, "3")
		n, err := Normalize(inner)
		if err != nil {
			return "", "", ErrUnrecognizedBarcode
		}
		return n, FormatGS1, nil
	}

	if !digitsOnly(s) {
		return "", "", ErrUnrecognizedBarcode
	}

	switch len(s) {
	case 12:
		n, err := Normalize(s[1 : len(s)-1])
		if err != nil {
			return "", "", ErrUnrecognizedBarcode
		}
		return n, FormatUPCA, nil
	case 10, 11:
		n, err := Normalize(s)
		if err != nil {
			return "", "", ErrUnrecognizedBarcode
		}
		return n, FormatRaw, nil
	}
	return "", "", ErrUnrecognizedBarcode
}

// EncodeBarcode renders a canonical NDC in the given symbology. Used by
// tests and label previews. UPC-A and GS1 carry the 10-digit form, so
// both require a canonical NDC whose padded leading digit is zero.
func EncodeBarcode(canonical string, format BarcodeFormat) (string, error) {
	n, err := Normalize(canonical)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatRaw:
		return n, nil
	case FormatDashed:
		return Format(n)
	case FormatUPCA:
		if n[0] != '0' {
			return "", rxerr.ErrInvalidField.WithField("ndc").
				WithDetail("not representable as UPC-A")
		}
		body := "3" + n[1:] // number system 3 (drugs) + NDC10
		return body + upcCheckDigit(body), nil
	case FormatGS1:
		if n[0] != '0' {
			return "", rxerr.ErrInvalidField.WithField("ndc").
				WithDetail("not representable as GTIN-14")
		}
		body := "003" + n[1:] // indicator 0, "03", NDC10
		return "01" + body + gs1CheckDigit(body), nil
	}
	return "", rxerr.ErrInvalidField.WithField("format").WithDetail("%s", format)
}

func upcCheckDigit(body string) string {
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d * 3
		} else {
			sum += d
		}
	}
	return string(rune('0' + (10-sum%10)%10))
}

func gs1CheckDigit(body string) string {
	sum := 0
	// GTIN-14 weights from the right: 3,1,3,1...
	for i := 0; i < len(body); i++ {
		d := int(body[len(body)-1-i] - '0')
		if i%2 == 0 {
			sum += d * 3
		} else {
			sum += d
		}
	}
	return string(rune('0' + (10-sum%10)%10))
}
