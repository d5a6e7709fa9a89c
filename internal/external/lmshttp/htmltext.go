package lmshttp

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText извлекает текст из HTML описания задания
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}

	doc.Find("script, style").Remove()
	// Блочные элементы разделяем пробелом, иначе слова склеиваются
	doc.Find("p, div, li, br, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Excerpt обрезает текст до limit символов
func Excerpt(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
