package ndc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/ndc"
)

func TestParseBarcode_Formats(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		format ndc.BarcodeFormat
	}{
		{"00093505698", "00093505698", ndc.FormatRaw},
		{"0093505698", "00093505698", ndc.FormatRaw},
		{"0093-5056-98", "00093505698", ndc.FormatDashed},
		{"00093-5056-98", "00093505698", ndc.FormatDashed},
	}
	for _, c := range cases {
		got, format, err := ndc.ParseBarcode(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.format, format, c.in)
	}
}

func TestParseBarcode_Unrecognized(t *testing.T) {
	for _, in := range []string{"", "hello", "12345", "1234567890123", "01abc"} {
		_, _, err := ndc.ParseBarcode(in)
		assert.ErrorIs(t, err, ndc.ErrUnrecognizedBarcode, in)
	}
}

func TestBarcodeEncodeParseRoundTrip(t *testing.T) {
	formats := []ndc.BarcodeFormat{
		ndc.FormatRaw, ndc.FormatDashed, ndc.FormatUPCA, ndc.FormatGS1,
	}
	for _, canonical := range []string{"00093505698", "00406055201", "00002751001"} {
		for _, f := range formats {
			encoded, err := ndc.EncodeBarcode(canonical, f)
			require.NoError(t, err, "%s as %s", canonical, f)
			parsed, gotFormat, err := ndc.ParseBarcode(encoded)
			require.NoError(t, err, encoded)
			assert.Equal(t, canonical, parsed, "%s via %s", canonical, f)
			assert.Equal(t, f, gotFormat)
		}
	}
}

func TestEncodeBarcode_UPCARequiresZeroLead(t *testing.T) {
	_, err := ndc.EncodeBarcode("10093505698", ndc.FormatUPCA)
	assert.Error(t, err)
}
