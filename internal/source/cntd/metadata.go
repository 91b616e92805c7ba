package cntd

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

const registrationDateLayout = "2006-01-02"

var genitiveMonths = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

type documentMeta struct {
	Names         []string       `json:"names"`
	Registrations []registration `json:"registrations"`
}

type registration struct {
	Date    string          `json:"date"`
	Number  json.RawMessage `json:"number"`
	Doctype *struct {
		Name string `json:"name"`
	} `json:"doctype"`
}

// MetadataURL is the JSON endpoint of one document.
func (c *Client) MetadataURL(docID string) string {
	return c.endpoint("/api/document/"+docID, nil)
}

// FetchMetadata loads and normalizes the structured fields of docID.
func (c *Client) FetchMetadata(ctx context.Context, docID string) (corpus.StructuredRecord, error) {
	const op = "cntd.metadata"
	body, err := c.get(ctx, op, docID, c.MetadataURL(docID), "application/json")
	if err != nil {
		return corpus.StructuredRecord{}, err
	}
	meta, err := decodeMetadata(body)
	if err != nil {
		return corpus.StructuredRecord{}, malformed(op, docID, err)
	}
	return buildRecord(docID, c.DocumentURL(docID), meta), nil
}

// decodeMetadata unescapes HTML entities in every string of the document
// before binding it.
func decodeMetadata(body []byte) (documentMeta, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return documentMeta{}, fmt.Errorf("decode metadata: %w", err)
	}
	if _, ok := generic.(map[string]any); !ok {
		return documentMeta{}, fmt.Errorf("decode metadata: expected object, got %T", generic)
	}
	normalized, err := json.Marshal(unescapeAll(generic))
	if err != nil {
		return documentMeta{}, fmt.Errorf("re-encode metadata: %w", err)
	}
	var meta documentMeta
	if err := json.Unmarshal(normalized, &meta); err != nil {
		return documentMeta{}, fmt.Errorf("bind metadata: %w", err)
	}
	return meta, nil
}

func unescapeAll(v any) any {
	switch t := v.(type) {
	case string:
		return html.UnescapeString(t)
	case []any:
		for i := range t {
			t[i] = unescapeAll(t[i])
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = unescapeAll(item)
		}
		return t
	default:
		return v
	}
}

func buildRecord(docID, docURL string, meta documentMeta) corpus.StructuredRecord {
	rec := corpus.StructuredRecord{
		DocID: docID,
		URL:   docURL,
	}
	if len(meta.Names) > 0 {
		rec.Title = meta.Names[0]
	}
	if len(meta.Registrations) == 0 {
		return rec
	}
	reg := meta.Registrations[0]
	rec.Requisites = requisites(reg)
	if reg.Date != "" {
		if at, err := time.Parse(registrationDateLayout, reg.Date); err == nil {
			rec.PublishedAt = &at
		}
	}
	return rec
}

// requisites renders "{doctype} от {day month year} г. № {number}", dropping
// whatever parts the registration lacks.
func requisites(reg registration) string {
	doctype := ""
	if reg.Doctype != nil {
		doctype = strings.TrimSpace(reg.Doctype.Name)
	}
	date := russianDate(reg.Date)
	number := rawID(reg.Number)

	var b strings.Builder
	switch {
	case doctype != "" && date != "":
		b.WriteString(doctype)
		b.WriteString(" от ")
		b.WriteString(date)
	case doctype != "":
		b.WriteString(doctype)
	case date != "":
		b.WriteString("от ")
		b.WriteString(date)
	default:
		return ""
	}
	if number != "" {
		b.WriteString(" № ")
		b.WriteString(number)
	}
	return b.String()
}

// russianDate formats 2006-01-02 as "2 января 2006 г.". Unparseable input is
// returned unchanged.
func russianDate(raw string) string {
	if raw == "" {
		return ""
	}
	at, err := time.Parse(registrationDateLayout, raw)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("%d %s %d г.", at.Day(), genitiveMonths[at.Month()-1], at.Year())
}

func malformed(op, id string, err error) error {
	return corpus.E(corpus.KindMalformedResponse, op, err).WithID(id)
}
