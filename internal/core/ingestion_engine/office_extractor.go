package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
	"unicode/utf16"

	"code.sajari.com/docconv"
	"github.com/richardlehane/mscfb"

	"github.com/markdave123-py/chatbase/internal/core"
)

const minRunLen = 3

// xlsxText reads the shared strings and inline strings of a workbook.
func xlsxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx container: %v", core.ErrUnsupportedFormat, err)
	}

	var parts []string
	var sheets []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == "xl/sharedStrings.xml":
			text, err := zipXMLText(f, []string{"si"})
			if err != nil {
				return "", err
			}
			parts = append([]string{text}, parts...)
		case strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml"):
			sheets = append(sheets, f)
		}
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })
	for _, f := range sheets {
		// only inline strings carry text inside sheets; <v> holds numbers or
		// shared-string indexes.
		text, err := zipXMLText(f, []string{"is"}, "v", "f")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func zipXMLText(f *zip.File, breaks []string, skip ...string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	text, err := docconv.XMLToText(rc, breaks, skip, false)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return text, nil
}

// oleStreamText extracts printable runs from the named streams of a legacy
// compound document (.doc, .xls).
func oleStreamText(data []byte, streams ...string) (string, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: not a compound document: %v", core.ErrUnsupportedFormat, err)
	}

	want := make(map[string]bool, len(streams))
	for _, s := range streams {
		want[s] = true
	}

	var parts []string
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !want[entry.Name] {
			continue
		}
		buf, rerr := io.ReadAll(entry)
		if rerr != nil {
			return "", fmt.Errorf("read stream %s: %w", entry.Name, rerr)
		}
		parts = append(parts, printableRuns(buf)...)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no text streams found", core.ErrUnsupportedFormat)
	}
	return strings.Join(parts, "\n"), nil
}

// printableRuns returns runs of printable text found either as UTF-16LE or as
// single-byte characters, whichever yields more text.
func printableRuns(buf []byte) []string {
	wide := wideRuns(buf)
	narrow := narrowRuns(buf)
	if runeTotal(wide) >= runeTotal(narrow) {
		return wide
	}
	return narrow
}

func narrowRuns(buf []byte) []string {
	var (
		out []string
		cur []rune
	)
	emit := func() {
		if len(cur) >= minRunLen {
			out = append(out, string(cur))
		}
		cur = cur[:0]
	}
	for _, b := range buf {
		r := rune(b)
		if b < 0x80 && (unicode.IsPrint(r) || r == '\t') {
			cur = append(cur, r)
			continue
		}
		emit()
	}
	emit()
	return out
}

func wideRuns(buf []byte) []string {
	var (
		out   []string
		units []uint16
	)
	emit := func() {
		if len(units) >= minRunLen {
			out = append(out, string(utf16.Decode(units)))
		}
		units = units[:0]
	}
	for i := 0; i+1 < len(buf); i += 2 {
		u := uint16(buf[i]) | uint16(buf[i+1])<<8
		r := rune(u)
		if u != 0 && (unicode.IsPrint(r) || r == '\t') && !(u >= 0xD800 && u <= 0xDFFF) {
			units = append(units, u)
			continue
		}
		emit()
	}
	emit()
	return out
}

func runeTotal(runs []string) int {
	n := 0
	for _, r := range runs {
		n += len([]rune(r))
	}
	return n
}
