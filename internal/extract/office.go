package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Word and OpenDocument files are zip containers holding a single main XML
// part. Both extractors walk that part's token stream, flattening paragraphs
// to lines and splitting pages at explicit page breaks.

const (
	docxMainPart = "word/document.xml"
	odtMainPart  = "content.xml"
)

func extractDocx(body []byte) ([]string, error) {
	part, err := zipPart(body, docxMainPart)
	if err != nil {
		return nil, err
	}
	return wordPages(part)
}

func extractODT(body []byte) ([]string, error) {
	part, err := zipPart(body, odtMainPart)
	if err != nil {
		return nil, err
	}
	return odtPages(part)
}

func zipPart(body []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("container has no %s part", name)
}

// wordPages walks WordprocessingML. Paragraphs (w:p) become lines, text runs
// (w:t) contribute their character data, and explicit page breaks
// (w:br w:type="page") or rendered break markers (w:lastRenderedPageBreak)
// start a new page.
func wordPages(part []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(part))

	var (
		pages []string
		page  strings.Builder
		para  strings.Builder
	)
	flushPara := func() {
		if line := strings.TrimSpace(para.String()); line != "" {
			page.WriteString(line)
			page.WriteByte('\n')
		}
		para.Reset()
	}
	flushPage := func() {
		flushPara()
		pages = append(pages, NormalizePage(page.String()))
		page.Reset()
	}

	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte(' ')
			case "br":
				if attrValue(t, "type") == "page" {
					flushPage()
				} else {
					flushPara()
				}
			case "lastRenderedPageBreak":
				flushPage()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flushPara()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flushPage()
	return trimEmptyPages(pages), nil
}

// odtPages walks OpenDocument content. text:p and text:h become lines,
// text:s expands to a space, and a paragraph styled with a page-break is not
// distinguishable without the styles part, so ODT output is a single page.
func odtPages(part []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(part))

	var (
		page strings.Builder
		para strings.Builder
	)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse content xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				depth++
			case "s", "tab":
				if depth > 0 {
					para.WriteByte(' ')
				}
			case "line-break":
				if depth > 0 {
					para.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "h" {
				depth--
				if line := strings.TrimSpace(para.String()); line != "" {
					page.WriteString(line)
					page.WriteByte('\n')
				}
				para.Reset()
			}
		case xml.CharData:
			if depth > 0 {
				para.Write(t)
			}
		}
	}
	return trimEmptyPages([]string{NormalizePage(page.String())}), nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func trimEmptyPages(pages []string) []string {
	out := pages[:0]
	for _, p := range pages {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
