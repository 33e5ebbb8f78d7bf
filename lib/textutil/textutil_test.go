package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeColumn(t *testing.T) {
	cases := map[string]string{
		"Öğrenci Adı":       "ogrenci_adi",
		"T.C. Kimlik No":    "tc_kimlik_no",
		"  Sınav   Tarihi ": "sinav_tarihi",
		"Fotoğraf":          "fotograf",
		"İşlem Durumu":      "islem_durumu",
		"IBAN":              "iban",
		"":                  "",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeColumn(input), "input: %q", input)
	}
}

func TestNormalizeColumnIdempotent(t *testing.T) {
	inputs := []string{
		"Öğrenci Adı",
		"ÇÖK ĞÜŞI İı",
		"already_normal_123",
		"Aday No",
	}
	for _, input := range inputs {
		once := NormalizeColumn(input)
		require.Equal(t, once, NormalizeColumn(once), "input: %q", input)
	}
}
