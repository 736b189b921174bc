package transactions

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dvloznov/statement-sync/internal/domain"
)

const recordSchemaURL = "transaction_record.json"

// recordSchema is the per-candidate contract. Category only has to be a
// non-blank string.
const recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["transaction_date", "product_name", "price", "category"],
  "properties": {
    "transaction_date": {"type": "string", "pattern": "\\S"},
    "product_name":     {"type": "string", "pattern": "\\S"},
    "price":            {"type": ["string", "number"]},
    "category":         {"type": "string", "pattern": "\\S"}
  }
}`

var compiledRecordSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(recordSchemaURL, strings.NewReader(recordSchema)); err != nil {
		panic(fmt.Sprintf("add record schema: %v", err))
	}
	return compiler.MustCompile(recordSchemaURL)
}

// validateCandidate checks one decoded candidate and converts it to a record.
func validateCandidate(item interface{}) (domain.TransactionRecord, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return domain.TransactionRecord{}, fmt.Errorf("record is %T, want object", item)
	}
	if err := compiledRecordSchema.Validate(obj); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("record does not match schema: %s", schemaReason(err))
	}

	dateStr, err := getStringField(obj, "transaction_date")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	product, err := getStringField(obj, "product_name")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	category, err := getStringField(obj, "category")
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	date, err := ParseDate(dateStr)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("field %q: %w", "transaction_date", err)
	}
	price, err := ParsePrice(obj["price"])
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("field %q: %w", "price", err)
	}

	return domain.NewTransactionRecord(date, product, price, category), nil
}

func getStringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// schemaReason flattens a validation error to its most specific causes.
func schemaReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var reasons []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			reasons = append(reasons, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(reasons, "; ")
}
