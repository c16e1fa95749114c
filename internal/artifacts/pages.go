package artifacts

import (
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/titlereportflow/internal/models"
)

// PageText is one entry of a page checkpoint file.
type PageText struct {
	Page int    `json:"page_number"`
	Text string `json:"text"`
}

// Field selects which text of a page a checkpoint file carries.
type Field func(p models.Page) string

var (
	RawText        Field = func(p models.Page) string { return p.RawText }
	TranslatedText Field = func(p models.Page) string { return p.TranslatedText }
	EditedText     Field = func(p models.Page) string { return p.EditedText }
)

// EncodePages serialises one text field of every page, in page order.
func EncodePages(pages []models.Page, field Field) ([]byte, error) {
	out := make([]PageText, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageText{Page: p.Number, Text: field(p)})
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecodePages reads a page checkpoint file into a page-number keyed map.
func DecodePages(data []byte) (map[int]string, error) {
	var in []PageText
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode page checkpoint: %w", err)
	}
	out := make(map[int]string, len(in))
	for _, pt := range in {
		if pt.Page <= 0 {
			return nil, fmt.Errorf("decode page checkpoint: invalid page number %d", pt.Page)
		}
		out[pt.Page] = pt.Text
	}
	return out, nil
}
