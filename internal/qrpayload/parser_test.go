package qrpayload_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/qrpayload"
)

func TestParse_ReferencePayload(t *testing.T) {
	p, err := qrpayload.Parse("NHEM DAY G. ACLO 2023300076 BSIT")
	require.NoError(t, err)
	assert.Equal(t, "NHEM DAY G. ACLO", p.FullName)
	assert.Equal(t, "2023300076", p.StudentID)
	assert.Equal(t, "BSIT", p.Department)
}

func TestParse_NormalizesWhitespace(t *testing.T) {
	inputs := []string{
		"  JUAN   DELA  CRUZ 20233000761 BSCS ",
		"JUAN\tDELA\nCRUZ 20233000761 BSCS",
		"JUAN DELA CRUZ 20233000761 BSCS",
	}
	for _, in := range inputs {
		p, err := qrpayload.Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, strings.Join(strings.Fields(in), " "), p.String())
	}
}

func TestParse_SingleTokenName(t *testing.T) {
	p, err := qrpayload.Parse("MARIA 1234567890 BSED")
	require.NoError(t, err)
	assert.Equal(t, "MARIA", p.FullName)
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"", "   ", "ONLYONE", "NAME 2023300076"} {
		t.Run(in, func(t *testing.T) {
			_, err := qrpayload.Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, qrpayload.ErrMalformed))
		})
	}
}

func TestParse_InvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{name: "id too short", input: "ANA CRUZ 123456789 BSIT", field: "student_id"},
		{name: "id too long", input: "ANA CRUZ 123456789012 BSIT", field: "student_id"},
		{name: "id not digits", input: "ANA CRUZ 20233A0076 BSIT", field: "student_id"},
		{name: "signed id", input: "ANA CRUZ -202330007 BSIT", field: "student_id"},
		{name: "department too short", input: "ANA CRUZ 2023300076 B", field: "department"},
		{name: "department too long", input: "ANA CRUZ 2023300076 " + strings.Repeat("D", 51), field: "department"},
		{name: "name too long", input: strings.Repeat("N", 201) + " 2023300076 BSIT", field: "full_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := qrpayload.Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, qrpayload.ErrInvalidField))

			var fe *qrpayload.FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestParse_Bounds(t *testing.T) {
	_, err := qrpayload.Parse(strings.Repeat("N", 200) + " 2023300076 " + strings.Repeat("D", 50))
	require.NoError(t, err)

	_, err = qrpayload.Parse("ANA 20233000761 IT")
	require.NoError(t, err)
}
