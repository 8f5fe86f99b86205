package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/tidwall/gjson"
)

const (
	SchemaBasePoints      = 8
	SchemaHighValueBonus  = 5
	SchemaStandardBonus   = 3
	unknownSchemaTypeName = "Unknown"
)

var HighValueSchemaTypes = map[string]bool{
	"FAQPage": true,
	"HowTo":   true,
	"Article": true,
	"Product": true,
	"Recipe":  true,
}

// JSONLDItems returns every JSON-LD object on the page: top-level objects,
// array members and @graph members. Malformed blocks are skipped.
func JSONLDItems(html string) []gjson.Result {
	if html == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var items []gjson.Result
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if !strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
			return
		}
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !gjson.Valid(raw) {
			return
		}
		items = append(items, flattenJSONLD(gjson.Parse(raw))...)
	})
	return items
}

func flattenJSONLD(v gjson.Result) []gjson.Result {
	var out []gjson.Result
	switch {
	case v.IsArray():
		for _, el := range v.Array() {
			out = append(out, flattenJSONLD(el)...)
		}
	case v.IsObject():
		graph := v.Get("@graph")
		if graph.IsArray() {
			for _, el := range graph.Array() {
				out = append(out, flattenJSONLD(el)...)
			}
			if !v.Get("@type").Exists() {
				return out
			}
		}
		out = append(out, v)
	}
	return out
}

// typesOf returns the @type values of a JSON-LD object.
func typesOf(item gjson.Result) []string {
	t := item.Get("@type")
	switch {
	case !t.Exists():
		return []string{unknownSchemaTypeName}
	case t.IsArray():
		var out []string
		for _, el := range t.Array() {
			if s := el.String(); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return []string{unknownSchemaTypeName}
		}
		return out
	default:
		if s := t.String(); s != "" {
			return []string{s}
		}
		return []string{unknownSchemaTypeName}
	}
}

// Schema scores Schema.org JSON-LD: base points when any block is present,
// plus a bonus per unique type, larger for high-value types.
var Schema CheckFunc = func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	res := report.PillarResult{MaxPoints: maxPoints}
	items := JSONLDItems(in.HTML())
	if len(items) == 0 {
		res.Detail = "No JSON-LD found"
		res.Evidence = map[string]interface{}{"blocks_found": 0}
		return res, nil
	}

	unique := map[string]bool{}
	for _, item := range items {
		for _, t := range typesOf(item) {
			unique[t] = true
		}
	}
	types := make([]string, 0, len(unique))
	high := 0
	for t := range unique {
		types = append(types, t)
		if HighValueSchemaTypes[t] {
			high++
		}
	}
	sort.Strings(types)
	std := len(types) - high

	score := float64(SchemaBasePoints + SchemaHighValueBonus*high + SchemaStandardBonus*std)
	res.Score = capAt(score, maxPoints)
	res.Detail = fmt.Sprintf("%d JSON-LD block(s) found", len(items))
	res.Evidence = map[string]interface{}{
		"blocks_found":     len(items),
		"types":            types,
		"high_value_types": high,
	}
	return res, nil
}
