package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
)

func newTestExtractor(maxBytes int64) *DocconvExtractor {
	return NewDocconvExtractor(config.FetchConfig{MaxBodyBytes: maxBytes, MaxRedirects: 3}, nil, nil)
}

func TestExtractTextIdentity(t *testing.T) {
	e := newTestExtractor(1 << 20)
	text, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindText, Data: []byte("Paris is the capital of France.")})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", text)
}

func TestNormalizeText(t *testing.T) {
	in := "Hello\x00   world\r\nsecond\tline\x07\n\n\n\nnext\xff para"
	assert.Equal(t, "Hello world\nsecond line\n\nnext para", NormalizeText(in))
}

func TestExtractFileFormats(t *testing.T) {
	e := newTestExtractor(1 << 20)
	cases := []struct {
		name     string
		filename string
		data     string
		want     []string
	}{
		{"txt", "a.TXT", "plain text", []string{"plain text"}},
		{"md", "readme.md", "# Title\n\nSome **bold** [link](http://x)", []string{"Title", "Some bold link"}},
		{"csv", "t.csv", "city,country\nParis,France\n", []string{"city, country", "Paris, France"}},
		{"json", "d.json", `{"city":"Paris","tags":["capital"]}`, []string{"city: Paris", "tags[0]: capital"}},
		{"xml", "d.xml", `<root><city>Paris</city></root>`, []string{"Paris"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindFile, Filename: tc.filename, Data: []byte(tc.data)})
			require.NoError(t, err)
			for _, w := range tc.want {
				assert.Contains(t, text, w)
			}
		})
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := newTestExtractor(1 << 20)
	_, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindFile, Filename: "x.exe", Data: []byte("MZ")})
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.True(t, strings.HasPrefix(err.Error(), "UnsupportedFormat"))
}

func TestExtractPayloadTooLarge(t *testing.T) {
	e := newTestExtractor(16)
	_, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindFile, Filename: "big.txt", Data: bytes.Repeat([]byte("a"), 17)})
	require.ErrorIs(t, err, core.ErrPayloadTooLarge)
	assert.True(t, strings.HasPrefix(err.Error(), "PayloadTooLarge"))
}

func TestExtractXLSXSharedStrings(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("xl/sharedStrings.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<sst><si><t>Paris</t></si><si><t>France</t></si></sst>`))
	require.NoError(t, err)
	w, err = zw.Create("xl/worksheets/sheet1.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<worksheet><sheetData><row><c t="s"><v>0</v></c><c t="inlineStr"><is><t>Inline note</t></is></c></row></sheetData></worksheet>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	e := newTestExtractor(1 << 20)
	text, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindFile, Filename: "book.xlsx", Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Contains(t, text, "Paris")
	assert.Contains(t, text, "France")
	assert.Contains(t, text, "Inline note")
}

func TestPrintableRuns(t *testing.T) {
	narrow := append([]byte{0x01, 0x02}, []byte("Hello world")...)
	assert.Equal(t, []string{"Hello world"}, printableRuns(append(narrow, 0x00)))

	var wide []byte
	for _, r := range "Bonjour" {
		wide = append(wide, byte(r), 0x00)
	}
	assert.Equal(t, []string{"Bonjour"}, printableRuns(wide))
}

const articleHTML = `<html><head><title>Capitals</title><script>var secret = "do-not-index";</script></head>
<body><nav>Home</nav><article><h1>European capitals</h1>
<p>Paris is the capital and most populous city of France, with an estimated population of two million residents.</p>
<p>Berlin is the capital of Germany and its largest city, known for its art scene and modern landmarks.</p>
</article><style>.x{color:red}</style></body></html>`

func TestExtractWebsite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	e := newTestExtractor(1 << 20)
	text, err := e.Extract(context.Background(), core.Payload{Kind: models.SourceKindWebsite, URL: srv.URL + "/capitals"})
	require.NoError(t, err)
	assert.Contains(t, text, "Paris is the capital")
	assert.NotContains(t, text, "do-not-index")
	assert.NotContains(t, text, "color:red")
}

func TestExtractWebsiteFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		default:
			_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
		}
	}))
	defer srv.Close()

	e := newTestExtractor(32)
	ctx := context.Background()

	_, err := e.Extract(ctx, core.Payload{Kind: models.SourceKindWebsite, URL: srv.URL + "/missing"})
	assert.ErrorIs(t, err, core.ErrFetchFailed)

	_, err = e.Extract(ctx, core.Payload{Kind: models.SourceKindWebsite, URL: srv.URL + "/loop"})
	assert.ErrorIs(t, err, core.ErrFetchFailed)

	_, err = e.Extract(ctx, core.Payload{Kind: models.SourceKindWebsite, URL: srv.URL + "/big"})
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = e.Extract(ctx, core.Payload{Kind: models.SourceKindWebsite, URL: "ftp://example.com"})
	assert.ErrorIs(t, err, core.ErrFetchFailed)
}

func TestVisibleText(t *testing.T) {
	text, err := VisibleText(strings.NewReader(articleHTML))
	require.NoError(t, err)
	text = NormalizeText(text)
	assert.Contains(t, text, "Berlin is the capital of Germany")
	assert.NotContains(t, text, "do-not-index")
	assert.NotContains(t, text, "Capitals") // title lives in <head>
}
