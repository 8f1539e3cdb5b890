package translation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	d, err := Load([]byte(`<?xml version="1.0"?>
<dictionary>
  <entry key="below_minimum">below minimum</entry>
  <entry key="above_maximum">above maximum</entry>
</dictionary>`))
	require.NoError(t, err)

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "below minimum", d.Translate("below_minimum"))
	assert.Equal(t, Fallback, d.Translate("missing"))
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", `<dictionary><entry key="a">x</dictionary>`},
		{"foreign element", `<dictionary><word key="a">x</word></dictionary>`},
		{"missing key", `<dictionary><entry>x</entry></dictionary>`},
		{"two attributes", `<dictionary><entry key="a" lang="fr">x</entry></dictionary>`},
		{"wrong attribute", `<dictionary><entry id="a">x</entry></dictionary>`},
		{"nested element", `<dictionary><entry key="a"><b>x</b></entry></dictionary>`},
		{"stray text", `<dictionary>hello<entry key="a">x</entry></dictionary>`},
		{"empty", ``},
		{"whitespace only", "  \n\t"},
		{"declaration only", `<?xml version="1.0"?>`},
		{"two roots", `<a><entry key="k">v</entry></a><b><entry key="j">w</entry></b>`},
		{"text after root", `<dictionary><entry key="a">x</entry></dictionary>tail`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			var lerr *LoadError
			assert.ErrorAs(t, err, &lerr)
		})
	}
}

func TestNilDictionary(t *testing.T) {
	var d *Dictionary
	assert.Equal(t, Fallback, d.Translate("anything"))
	assert.Zero(t, d.Len())
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fr.xml"),
		[]byte(`<dictionary><entry key="below_minimum">en dessous du minimum</entry></dictionary>`), 0o644))

	l := NewLoader(dir, nil)

	d, err := l.Load("fr")
	require.NoError(t, err)
	assert.Equal(t, "fr", d.Language())
	assert.Equal(t, "en dessous du minimum", d.Translate("below_minimum"))

	again, err := l.Load("fr")
	require.NoError(t, err)
	assert.Same(t, d, again)

	_, err = l.Load("de")
	var lerr *LoadError
	assert.ErrorAs(t, err, &lerr)
}
