package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

// ValidDocument reports whether raw is a well-formed, compilable schema
// document. Compilation through the schema library catches structural rot
// (truncated writes, partial downloads) that a plain JSON parse would miss.
func ValidDocument(raw []byte) bool {
	if !json.Valid(raw) {
		return false
	}
	_, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	return err == nil
}

// propertyDef is a single entry under a schema's "properties" object.
type propertyDef struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Type        interface{}   `json:"type"`
	Enum        []interface{} `json:"enum"`
	Examples    []interface{} `json:"examples"`
	Items       *propertyDef  `json:"items"`
}

// normalizeRequirements flattens a schema's properties object into an
// ordered requirement list. json.Unmarshal into a map would scramble the
// order the marketplace publishes, so the keys are walked with a token
// decoder instead.
func normalizeRequirements(properties json.RawMessage, required []string) ([]model.Requirement, error) {
	requiredSet := make(map[string]bool, len(required))
	for _, name := range required {
		requiredSet[name] = true
	}

	dec := json.NewDecoder(bytes.NewReader(properties))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("properties is not a JSON object")
	}

	var reqs []model.Requirement
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in properties", tok)
		}

		var def propertyDef
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}

		reqs = append(reqs, normalizeProperty(name, def, requiredSet[name]))
	}
	return reqs, nil
}

// normalizeProperty maps one schema property to a requirement. Array
// properties borrow enum and type detail from their item schema.
func normalizeProperty(name string, def propertyDef, required bool) model.Requirement {
	detail := def
	if typeName(def.Type) == "array" && def.Items != nil {
		detail = *def.Items
		if detail.Title == "" {
			detail.Title = def.Title
		}
		if detail.Description == "" {
			detail.Description = def.Description
		}
	}

	req := model.Requirement{
		Name:        name,
		DisplayName: displayName(name, detail.Title),
		Description: detail.Description,
		Type:        typeName(detail.Type),
		Required:    required,
		Grouping:    groupFor(name),
	}
	for _, e := range detail.Enum {
		req.Enum = append(req.Enum, fmt.Sprintf("%v", e))
	}
	if len(detail.Examples) > 0 {
		req.Example = fmt.Sprintf("%v", detail.Examples[0])
	}
	return req
}

// typeName collapses a schema "type" value, which may be a string or a
// list of strings, into a single name. Lists prefer the first non-null
// entry.
func typeName(t interface{}) string {
	switch v := t.(type) {
	case string:
		return v
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "null" {
				return s
			}
		}
	}
	return "string"
}

// displayName prefers a schema title, falling back to the field name in
// title case with separators replaced by spaces.
func displayName(name, title string) string {
	if title != "" {
		return title
	}
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	words := strings.Fields(cleaned)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// groupPrefixes maps field-name fragments to presentation groups. The
// first match wins; anything unmatched lands in Other.
var groupPrefixes = []struct {
	fragment string
	group    string
}{
	{"item_name", "Basic Information"},
	{"brand", "Basic Information"},
	{"product_description", "Basic Information"},
	{"description", "Basic Information"},
	{"bullet_point", "Basic Information"},
	{"manufacturer", "Basic Information"},
	{"model", "Basic Information"},
	{"sku", "Identifiers"},
	{"externally_assigned_product_identifier", "Identifiers"},
	{"upc", "Identifiers"},
	{"ean", "Identifiers"},
	{"gtin", "Identifiers"},
	{"isbn", "Identifiers"},
	{"asin", "Identifiers"},
	{"price", "Pricing"},
	{"cost", "Pricing"},
	{"list_price", "Pricing"},
	{"quantity", "Inventory"},
	{"fulfillment", "Inventory"},
	{"condition", "Inventory"},
	{"weight", "Dimensions"},
	{"height", "Dimensions"},
	{"width", "Dimensions"},
	{"length", "Dimensions"},
	{"dimension", "Dimensions"},
	{"size", "Dimensions"},
	{"image", "Images"},
	{"color", "Variations"},
	{"variation", "Variations"},
	{"keyword", "Discovery"},
	{"search_term", "Discovery"},
}

// groupFor assigns a field name to a presentation group.
func groupFor(name string) string {
	lower := strings.ToLower(name)
	for _, gp := range groupPrefixes {
		if strings.Contains(lower, gp.fragment) {
			return gp.group
		}
	}
	return "Other"
}

// inputTypeFor maps a schema type to an HTML-ish input type.
func inputTypeFor(schemaType string) string {
	switch schemaType {
	case "number", "integer":
		return "number"
	case "boolean":
		return "checkbox"
	default:
		return "text"
	}
}

// joinEnum packs enum options into the auxiliary input field.
func joinEnum(options []string) string {
	return strings.Join(options, "||")
}
