package cntd

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const disclaimerPrefix = "Электронный текст документа"

// ExtractContent downloads the document page and returns its body text. A page
// without a text block yields "" and no error.
func (c *Client) ExtractContent(ctx context.Context, docID, docURL string) (string, error) {
	const op = "cntd.content"
	if docURL == "" {
		docURL = c.DocumentURL(docID)
	}
	body, err := c.get(ctx, op, docID, docURL, "text/html")
	if err != nil {
		return "", err
	}
	text, err := ExtractText(body)
	if err != nil {
		return "", malformed(op, docID, err)
	}
	return text, nil
}

// ExtractText pulls paragraph text out of the document-content container,
// stopping at the electronic-copy disclaimer.
func ExtractText(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse document html: %w", err)
	}
	return textFromDocument(doc), nil
}

func textFromDocument(doc *goquery.Document) string {
	var lines []string
	blocks := doc.Find("div.document-content").Find("div.textBlock1, div.document-text_block")
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		stop := false
		block.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			line := strings.TrimSpace(p.Text())
			if line == "" {
				return true
			}
			if strings.HasPrefix(line, disclaimerPrefix) {
				stop = true
				return false
			}
			lines = append(lines, line)
			return true
		})
		return !stop
	})
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
