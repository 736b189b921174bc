package notionsync

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// Ledger column names.
const (
	ColumnDate           = "Date"
	ColumnProduct        = "Product"
	ColumnPrice          = "Price"
	ColumnCategory       = "Category"
	ColumnSourceDocument = "Source Document"
)

// maxTextContent is Notion's limit for a single rich text object.
const maxTextContent = 2000

// LedgerSchema returns the property schema of a ledger database. Category is
// rich text so any category string is accepted.
func LedgerSchema() notionapi.PropertyConfigs {
	return notionapi.PropertyConfigs{
		ColumnDate: notionapi.DatePropertyConfig{
			Type: notionapi.PropertyConfigTypeDate,
		},
		ColumnProduct: notionapi.TitlePropertyConfig{
			Type: notionapi.PropertyConfigTypeTitle,
		},
		ColumnPrice: notionapi.NumberPropertyConfig{
			Type:   notionapi.PropertyConfigTypeNumber,
			Number: notionapi.NumberFormat{Format: notionapi.FormatDollar},
		},
		ColumnCategory: notionapi.RichTextPropertyConfig{
			Type: notionapi.PropertyConfigTypeRichText,
		},
		ColumnSourceDocument: notionapi.RichTextPropertyConfig{
			Type: notionapi.PropertyConfigTypeRichText,
		},
	}
}

// missingColumns compares an existing ledger schema with LedgerSchema and
// returns the columns to add. A required column present with another type, or
// a title column under another name, cannot be fixed additively and is an error.
func missingColumns(existing notionapi.PropertyConfigs) (notionapi.PropertyConfigs, error) {
	required := LedgerSchema()
	missing := notionapi.PropertyConfigs{}

	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want := required[name]
		have, ok := existing[name]
		if !ok {
			if want.GetType() == notionapi.PropertyConfigTypeTitle {
				return nil, fmt.Errorf("title column is %q, expected %q", titleColumn(existing), name)
			}
			missing[name] = want
			continue
		}
		if have.GetType() != want.GetType() {
			return nil, fmt.Errorf("column %q has type %s, expected %s", name, have.GetType(), want.GetType())
		}
	}
	return missing, nil
}

func titleColumn(props notionapi.PropertyConfigs) string {
	for name, cfg := range props {
		if cfg.GetType() == notionapi.PropertyConfigTypeTitle {
			return name
		}
	}
	return ""
}

// RecordToProperties converts a transaction record to ledger row properties.
func RecordToProperties(rec domain.TransactionRecord, sourceDocumentID string) notionapi.Properties {
	date := notionapi.Date(time.Date(rec.Date.Year, rec.Date.Month, rec.Date.Day, 0, 0, 0, 0, time.UTC))

	return notionapi.Properties{
		ColumnDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		ColumnProduct: notionapi.TitleProperty{
			Title: richText(rec.ProductName),
		},
		ColumnPrice: notionapi.NumberProperty{
			Number: rec.Price.InexactFloat64(),
		},
		ColumnCategory: notionapi.RichTextProperty{
			RichText: richText(rec.Category),
		},
		ColumnSourceDocument: notionapi.RichTextProperty{
			RichText: richText(sourceDocumentID),
		},
	}
}

// richText splits s into text objects no longer than Notion accepts.
func richText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	for len(s) > 0 {
		n, size := 0, 0
		for size < len(s) && n < maxTextContent {
			_, w := utf8.DecodeRuneInString(s[size:])
			size += w
			n++
		}
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s[:size]},
		})
		s = s[size:]
	}
	if out == nil {
		out = []notionapi.RichText{}
	}
	return out
}

func plainText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, part := range parts {
		if part.PlainText != "" {
			b.WriteString(part.PlainText)
		} else if part.Text != nil {
			b.WriteString(part.Text.Content)
		}
	}
	return b.String()
}

// propertyText reads a page property as a plain string. People-like
// properties yield the first person's name.
func propertyText(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.CreatedByProperty:
		return p.CreatedBy.Name
	case *notionapi.PeopleProperty:
		if len(p.People) > 0 {
			return p.People[0].Name
		}
	case *notionapi.TitleProperty:
		return plainText(p.Title)
	case *notionapi.RichTextProperty:
		return plainText(p.RichText)
	case *notionapi.SelectProperty:
		return p.Select.Name
	case notionapi.RichTextProperty:
		return plainText(p.RichText)
	case notionapi.TitleProperty:
		return plainText(p.Title)
	}
	return ""
}

func checkboxValue(prop notionapi.Property) bool {
	switch p := prop.(type) {
	case *notionapi.CheckboxProperty:
		return p.Checkbox
	case notionapi.CheckboxProperty:
		return p.Checkbox
	}
	return false
}

// normalizeID strips dashes so hyphenated and compact Notion IDs compare equal.
func normalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}
