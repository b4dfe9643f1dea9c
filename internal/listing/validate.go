package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
)

// Fixed marketplace format rules, independent of any declared schema.
var (
	skuPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	gtinPattern = regexp.MustCompile(`^\d{12,14}$`)
)

// skuFields are the SKU-bearing form keys, in resolution priority order.
var skuFields = []string{"seller_sku", "sku", "merchant_sku", "item_sku"}

// gtinFields are form keys holding a UPC/GTIN/EAN-style identifier.
var gtinFields = []string{"upc", "ean", "gtin", "externally_assigned_product_identifier"}

var (
	priceFields  = []string{"price", "standard_price", "list_price", "selling_price"}
	costFields   = []string{"cost", "cost_price", "unit_cost"}
	weightFields = []string{"item_weight", "weight", "item_package_weight", "package_weight"}
	lengthFields = []string{"item_length", "length", "item_package_length"}
	widthFields  = []string{"item_width", "width", "item_package_width"}
	heightFields = []string{"item_height", "height", "item_package_height"}
)

// minDensity is the minimum pounds-per-cubic-inch a bulky package can
// plausibly weigh. Applied only above the volume floor; small items are
// never flagged.
const (
	minDensity  = 0.0001
	volumeFloor = 1000.0
)

// Validate runs all three validation passes over a listing's form data.
// Every pass always runs; at most one message is kept per field, a later
// pass overwriting an earlier one. Validation failures are reported in the
// result, never as errors.
func (e *Engine) Validate(ctx context.Context, record *model.ListingRecord, requirements []model.Requirement) model.ValidationResult {
	errs := make(map[string]string)

	e.validateDeclared(record.FormData, requirements, errs)
	e.validateFormats(record.FormData, requirements, errs)
	e.validateBusinessRules(ctx, record, errs)

	if len(errs) == 0 {
		return model.ValidationResult{IsValid: true}
	}
	return model.ValidationResult{IsValid: false, Errors: errs}
}

// validateDeclared is the declarative pass driven by the requirements:
// required presence, numeric type, and enum membership.
func (e *Engine) validateDeclared(formData map[string]interface{}, requirements []model.Requirement, errs map[string]string) {
	for _, req := range requirements {
		value, present := formData[req.Name]

		if req.Required && (!present || isEmptyValue(value)) {
			errs[req.Name] = fmt.Sprintf("The %s field is required.", req.DisplayName)
			continue
		}
		if !present || isEmptyValue(value) {
			continue
		}

		if req.Type == "number" || req.Type == "integer" {
			if _, ok := numericValue(value); !ok {
				errs[req.Name] = fmt.Sprintf("The %s must be a number.", req.DisplayName)
				continue
			}
		}

		if len(req.Enum) > 0 && !enumContains(req.Enum, value) {
			errs[req.Name] = fmt.Sprintf("The %s must be one of: %s.", req.DisplayName, strings.Join(req.Enum, ", "))
		}
	}
}

// validateFormats is the fixed marketplace-format pass. It applies
// regardless of what the declared schema says about these fields.
func (e *Engine) validateFormats(formData map[string]interface{}, requirements []model.Requirement, errs map[string]string) {
	for _, field := range skuFields {
		v, ok := formData[field]
		if !ok || isEmptyValue(v) {
			continue
		}
		if s, ok := v.(string); ok && !skuPattern.MatchString(s) {
			errs[field] = fmt.Sprintf("The %s format is invalid.", fieldLabel(requirements, field))
		}
	}

	for _, field := range gtinFields {
		v, ok := formData[field]
		if !ok || isEmptyValue(v) {
			continue
		}
		if !gtinPattern.MatchString(stringValue(v)) {
			errs[field] = fmt.Sprintf("The %s format is invalid.", fieldLabel(requirements, field))
		}
	}
}

// validateBusinessRules is the cross-field pass: price vs cost, weight
// plausibility against dimensions, and duplicate SKU detection against
// persisted listings.
func (e *Engine) validateBusinessRules(ctx context.Context, record *model.ListingRecord, errs map[string]string) {
	formData := record.FormData

	priceField, price, hasPrice := extractNumericField(formData, priceFields)
	_, cost, hasCost := extractNumericField(formData, costFields)
	if hasPrice && hasCost && price <= cost {
		errs[priceField] = "Selling price should be higher than cost."
	}

	weightField, weight, hasWeight := extractNumericField(formData, weightFields)
	_, length, hasLength := extractNumericField(formData, lengthFields)
	_, width, hasWidth := extractNumericField(formData, widthFields)
	_, height, hasHeight := extractNumericField(formData, heightFields)
	if hasWeight && hasLength && hasWidth && hasHeight {
		volume := length * width * height
		if volume > volumeFloor && weight < volume*minDensity {
			errs[weightField] = "Weight seems too light for the specified dimensions."
		}
	}

	e.checkDuplicateSKU(ctx, record, errs)
}

// checkDuplicateSKU flags a SKU already carried by another listing in the
// same marketplace. Listings stuck in error status are excluded; they
// never made it onto the marketplace. The read is not transactional, so
// two concurrent submissions of the same new SKU can both pass; the check
// is advisory, not a uniqueness guarantee.
func (e *Engine) checkDuplicateSKU(ctx context.Context, record *model.ListingRecord, errs map[string]string) {
	skuField, sku := ExtractSku(record.FormData)
	if sku == "" {
		return
	}

	existing, err := e.repo.FindBySKU(ctx, record.MarketplaceID, sku)
	if err != nil {
		if err != storage.ErrNotFound {
			slog.Warn("duplicate SKU check failed", "sku", sku, "error", err)
		}
		return
	}
	if existing.ID != record.ID && existing.Status != model.StatusError {
		errs[skuField] = fmt.Sprintf("A listing with SKU '%s' already exists in this marketplace.", sku)
	}
}

// ExtractSku returns the first populated SKU-bearing field and its value.
func ExtractSku(formData map[string]interface{}) (field, sku string) {
	for _, f := range skuFields {
		if v, ok := formData[f]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return f, s
			}
		}
	}
	return "", ""
}

// ExtractNumericValue returns the first present, numeric value among
// candidateKeys.
func ExtractNumericValue(formData map[string]interface{}, candidateKeys []string) (float64, bool) {
	_, v, ok := extractNumericField(formData, candidateKeys)
	return v, ok
}

// extractNumericField is ExtractNumericValue plus the key that matched,
// so validation messages can land on the right field.
func extractNumericField(formData map[string]interface{}, candidateKeys []string) (string, float64, bool) {
	for _, key := range candidateKeys {
		if v, ok := formData[key]; ok {
			if n, ok := numericValue(v); ok {
				return key, n, true
			}
		}
	}
	return "", 0, false
}

// numericValue coerces a form value to a float64. Strings are parsed;
// anything else non-numeric fails.
func numericValue(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

// enumContains reports whether a form value matches one of the enum
// options. Values are compared by their string rendering, so numeric form
// values can match numeric enums.
func enumContains(enum []string, value interface{}) bool {
	rendered := stringValue(value)
	for _, option := range enum {
		if option == rendered {
			return true
		}
	}
	return false
}

// stringValue renders a form value for comparison. json renders whole
// floats with a trailing .0, so those are trimmed back to integer form.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// fieldLabel resolves the human-readable name for a form field, preferring
// the requirement's display name when the field is part of the declared
// schema.
func fieldLabel(requirements []model.Requirement, field string) string {
	for _, req := range requirements {
		if req.Name == field && req.DisplayName != "" {
			return req.DisplayName
		}
	}
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(field)
	words := strings.Fields(cleaned)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
