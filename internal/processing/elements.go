// Package processing holds the in-process event processors that run after
// direct-log emission when the plugin server is not ingesting.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
)

const (
	propElements = "$elements"
	// ElementsChainKey is set on the event data with the flattened chain.
	ElementsChainKey = "elements_chain"

	attrPrefix = "attr__"
)

// ElementsStripper flattens autocapture `$elements` into a single
// elements_chain string and removes the element list from the properties.
type ElementsStripper struct{}

func NewElementsStripper() *ElementsStripper {
	return &ElementsStripper{}
}

func (s *ElementsStripper) Process(_ context.Context, evt *v1.Event) error {
	raw, ok := evt.Properties[propElements]
	if !ok {
		return nil
	}
	delete(evt.Properties, propElements)

	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}

	chain := ElementsChain(list)
	evt.Data[ElementsChainKey] = chain
	slog.Debug("Elements flattened", "uuid", evt.UUID, "elements", len(list), "chain_length", len(chain))
	return nil
}

// ElementsChain renders elements as `tag.class1.class2:key="value"...`
// joined by ';'. Classes and attribute keys are sorted; quotes are escaped.
// Non-object entries are skipped.
func ElementsChain(elements []interface{}) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		el, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		parts = append(parts, elementString(el))
	}
	return strings.Join(parts, ";")
}

func elementString(el map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(text(el["tag_name"]))

	classes := classList(el[attrPrefix+"class"])
	sort.Strings(classes)
	for _, c := range classes {
		b.WriteString(".")
		b.WriteString(strings.ReplaceAll(c, `"`, ""))
	}

	attrs := map[string]string{
		"nth-child":   orZero(el["nth_child"]),
		"nth-of-type": orZero(el["nth_of_type"]),
	}
	if t := text(el["$el_text"]); t != "" {
		attrs["text"] = t
	}
	if href := text(el[attrPrefix+"href"]); href != "" {
		attrs["href"] = href
	}
	if id := text(el[attrPrefix+"id"]); id != "" {
		attrs["attr_id"] = id
	}
	for k, v := range el {
		if strings.HasPrefix(k, attrPrefix) {
			attrs[k] = text(v)
		}
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(":")
	for _, k := range keys {
		fmt.Fprintf(&b, `%s="%s"`, escape(k), escape(attrs[k]))
	}
	return b.String()
}

func classList(v interface{}) []string {
	switch c := v.(type) {
	case string:
		return strings.Fields(c)
	case []interface{}:
		out := make([]string, 0, len(c))
		for _, item := range c {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		return strings.Join(classList(t), " ")
	default:
		return fmt.Sprint(t)
	}
}

func orZero(v interface{}) string {
	if s := text(v); s != "" {
		return s
	}
	return "0"
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
