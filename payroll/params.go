package payroll

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// parseParameterValue checks raw against the declared value type.
func parseParameterValue(t ParameterValueType, raw string) error {
	switch t {
	case ParamString:
		return nil
	case ParamNumber:
		if _, err := decimal.NewFromString(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%q is not a number", raw)
		}
		return nil
	case ParamBoolean:
		if _, err := strconv.ParseBool(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%q is not a boolean", raw)
		}
		return nil
	case ParamJSON:
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("value is not valid JSON")
		}
		return nil
	}
	return fmt.Errorf("unknown parameter type %q", t)
}

// Decimal returns the value of a number parameter.
func (p SystemParameter) Decimal() (decimal.Decimal, error) {
	if p.ValueType != ParamNumber {
		return decimal.Zero, &InvalidConfigurationError{Kind: KindSystemParameter, Field: p.Key, Reason: "is not a number parameter"}
	}
	return decimal.NewFromString(strings.TrimSpace(p.Value))
}

// Bool returns the value of a boolean parameter.
func (p SystemParameter) Bool() (bool, error) {
	if p.ValueType != ParamBoolean {
		return false, &InvalidConfigurationError{Kind: KindSystemParameter, Field: p.Key, Reason: "is not a boolean parameter"}
	}
	return strconv.ParseBool(strings.TrimSpace(p.Value))
}

// Decode unmarshals a json parameter into v.
func (p SystemParameter) Decode(v any) error {
	if p.ValueType != ParamJSON {
		return &InvalidConfigurationError{Kind: KindSystemParameter, Field: p.Key, Reason: "is not a json parameter"}
	}
	return json.Unmarshal([]byte(p.Value), v)
}

// Typed returns the value converted per its type: string, decimal.Decimal,
// bool, or the decoded JSON document.
func (p SystemParameter) Typed() (any, error) {
	switch p.ValueType {
	case ParamNumber:
		return p.Decimal()
	case ParamBoolean:
		return p.Bool()
	case ParamJSON:
		var v any
		err := p.Decode(&v)
		return v, err
	default:
		return p.Value, nil
	}
}
