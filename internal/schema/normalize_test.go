package schema

import (
	"encoding/json"
	"testing"
)

func TestNormalizePreservesDocumentOrder(t *testing.T) {
	props := json.RawMessage(`{
		"zeta": {"type": "string"},
		"alpha": {"type": "string"},
		"mid_field": {"type": "number"}
	}`)
	reqs, err := normalizeRequirements(props, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"zeta", "alpha", "mid_field"}
	for i, name := range want {
		if reqs[i].Name != name {
			t.Errorf("position %d = %s, want %s", i, reqs[i].Name, name)
		}
	}
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	if _, err := normalizeRequirements(json.RawMessage(`["not", "an", "object"]`), nil); err == nil {
		t.Error("expected error for non-object properties")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name, title, want string
	}{
		{"item_name", "Item Name", "Item Name"},
		{"item_name", "", "Item Name"},
		{"externally_assigned_product_identifier", "", "Externally Assigned Product Identifier"},
		{"fulfillment-latency", "", "Fulfillment Latency"},
		{"upc", "", "Upc"},
	}
	for _, tt := range tests {
		if got := displayName(tt.name, tt.title); got != tt.want {
			t.Errorf("displayName(%q, %q) = %q, want %q", tt.name, tt.title, got, tt.want)
		}
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"number", "number"},
		{[]interface{}{"null", "integer"}, "integer"},
		{nil, "string"},
		{[]interface{}{}, "string"},
	}
	for _, tt := range tests {
		if got := typeName(tt.in); got != tt.want {
			t.Errorf("typeName(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupFor(t *testing.T) {
	tests := []struct {
		field, want string
	}{
		{"item_name", "Basic Information"},
		{"seller_sku", "Identifiers"},
		{"list_price", "Pricing"},
		{"fulfillment_availability", "Inventory"},
		{"item_package_weight", "Dimensions"},
		{"main_product_image_locator", "Images"},
		{"generic_keyword", "Discovery"},
		{"battery", "Other"},
	}
	for _, tt := range tests {
		if got := groupFor(tt.field); got != tt.want {
			t.Errorf("groupFor(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestValidDocument(t *testing.T) {
	valid := []byte(`{"properties": {"a": {"type": "string"}}, "required": ["a"]}`)
	if !ValidDocument(valid) {
		t.Error("well-formed document reported invalid")
	}
	truncated := []byte(`{"properties": {"a": {"type": "str`)
	if ValidDocument(truncated) {
		t.Error("truncated document reported valid")
	}
	if ValidDocument([]byte{}) {
		t.Error("empty document reported valid")
	}
}
