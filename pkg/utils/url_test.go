package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"WO2018162793":   "WO2018162793",
		" wo2018162793 ": "WO2018162793",
		"WO 2018/162793": "WO2018162793",
		"2016168716":     "WO2016168716",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}

func TestDocumentURL(t *testing.T) {
	assert.Equal(t,
		"https://patentscope.wipo.int/search/en/detail.jsf?docId=WO2018162793",
		DocumentURL("", "WO 2018/162793"))
	assert.Equal(t,
		"http://localhost:9000/search/en/detail.jsf?docId=WO1",
		DocumentURL("http://localhost:9000/", "WO1"))
}

func TestToAbsoluteURL(t *testing.T) {
	base, err := url.Parse(DefaultBaseURL)
	require.NoError(t, err)

	abs, err := ToAbsoluteURL(base, "/docs/WO1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://patentscope.wipo.int/docs/WO1.pdf", abs)

	abs, err = ToAbsoluteURL(base, "https://cdn.example.org/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/a.pdf", abs)
}
