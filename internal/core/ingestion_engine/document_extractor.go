package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// SupportedExtensions lists the file extensions the extractor can decode.
var SupportedExtensions = []string{"txt", "md", "csv", "json", "xml", "pdf", "doc", "docx", "xls", "xlsx"}

// DocconvExtractor implements core.DocumentExtractor. Office and PDF formats go
// through sajari/docconv, web pages through go-readability.
type DocconvExtractor struct {
	maxBytes int64
	web      *WebFetcher
	logger   *log.Logger
}

func NewDocconvExtractor(fetch config.FetchConfig, client *http.Client, logger *log.Logger) *DocconvExtractor {
	if logger == nil {
		logger = log.Default()
	}
	if fetch.MaxBodyBytes <= 0 {
		fetch.MaxBodyBytes = 100 << 20
	}
	return &DocconvExtractor{
		maxBytes: fetch.MaxBodyBytes,
		web:      NewWebFetcher(fetch, client),
		logger:   logger,
	}
}

// MaxBytes is the payload ceiling enforced before decoding.
func (e *DocconvExtractor) MaxBytes() int64 { return e.maxBytes }

// Extract turns a payload into normalized text.
func (e *DocconvExtractor) Extract(ctx context.Context, p core.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch p.Kind {
	case models.SourceKindText:
		text = string(p.Data)
	case models.SourceKindWebsite:
		text, err = e.web.Extract(ctx, p.URL)
	case models.SourceKindFile:
		if int64(len(p.Data)) > e.maxBytes {
			return "", fmt.Errorf("%w: file is %d bytes, limit is %d", core.ErrPayloadTooLarge, len(p.Data), e.maxBytes)
		}
		text, err = e.extractFile(p.Filename, p.Data)
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", core.ErrUnsupportedFormat, p.Kind)
	}
	if err != nil {
		return "", err
	}
	return NormalizeText(text), nil
}

func (e *DocconvExtractor) extractFile(filename string, data []byte) (string, error) {
	ext := FileExtension(filename)
	switch ext {
	case "txt":
		return string(data), nil
	case "md":
		return stripMarkdown(string(data)), nil
	case "csv":
		return csvText(data)
	case "json":
		return jsonText(data)
	case "xml":
		return docconv.XMLToText(bytes.NewReader(data), []string{}, []string{}, false)
	case "pdf":
		res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
		if err != nil {
			return "", fmt.Errorf("pdf: %w", err)
		}
		return res.Body, nil
	case "docx":
		body, _, err := docconv.ConvertDocx(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		return body, nil
	case "doc":
		return e.docText(data)
	case "xlsx":
		return xlsxText(data)
	case "xls":
		return oleStreamText(data, "Workbook", "Book")
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, filepath.Ext(filename))
}

// docText prefers docconv (wvText) and falls back to scanning the OLE
// WordDocument stream when the external tool is missing.
func (e *DocconvExtractor) docText(data []byte) (string, error) {
	body, _, err := docconv.ConvertDoc(bytes.NewReader(data))
	if err == nil && strings.TrimSpace(body) != "" {
		return body, nil
	}
	if err != nil {
		e.logger.Printf("[Extractor] docconv doc failed, scanning OLE streams: %v", err)
	}
	return oleStreamText(data, "WordDocument")
}

// FileExtension returns the lower-cased extension without the dot.
func FileExtension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// IsSupportedFile reports whether filename has a decodable extension.
func IsSupportedFile(filename string) bool {
	ext := FileExtension(filename)
	for _, s := range SupportedExtensions {
		if s == ext {
			return true
		}
	}
	return false
}

func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var b strings.Builder
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("csv: %w", err)
		}
		b.WriteString(strings.Join(rec, ", "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// jsonText flattens a document into "path: value" lines.
func jsonText(data []byte) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(path string, v any, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if path != "" {
				next = path + "." + k
			}
			flattenJSON(next, t[k], out)
		}
	case []any:
		for i, item := range t {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, out)
		}
	case nil:
	default:
		if path == "" {
			*out = append(*out, fmt.Sprint(t))
			return
		}
		*out = append(*out, fmt.Sprintf("%s: %v", path, t))
	}
}

var (
	mdHeading = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	mdFence   = regexp.MustCompile("(?m)^```.*$")
	mdImage   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmph    = regexp.MustCompile(`(\*\*|__|\*|~~|` + "`" + `)`)
	mdQuote   = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
)

func stripMarkdown(s string) string {
	s = mdFence.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	return mdEmph.ReplaceAllString(s, "")
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	manyBlank   = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText guarantees valid UTF-8, drops control characters other than
// tab and newline, collapses runs of spaces and keeps paragraph breaks.
func NormalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError || r == '\uFEFF' {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = manyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
