package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "Kanaker", StripDiacritics("Kanakér"))
	assert.Equal(t, "Malatia", StripDiacritics("Malatía"))
	assert.Equal(t, "kanaker", RemoveAccentsAndLowercase("KANAKÉR"))
}

func TestTransliterate(t *testing.T) {
	assert.Equal(t, "Erevan", Transliterate("Ереван"))
	assert.Equal(t, "Yerevan", Transliterate("Yerevan"))
}

func TestFold(t *testing.T) {
	want := "kanaker zeytun"
	for _, in := range []string{"Kanaker-Zeytun", "KANAKER  zeytun", "Kanakér Zeytun", " kanaker_zeytun. "} {
		assert.Equal(t, want, Fold(in), in)
	}
	assert.Equal(t, "", Fold("  -- "))
	assert.True(t, IsASCII(Fold("Ереван")))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, IsASCII("Abovyan 12"))
	assert.False(t, IsASCII("Աբովյան"))
	assert.True(t, IsASCII(""))
}
