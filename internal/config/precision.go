package config

import (
	"fmt"
	"strings"
)

const (
	PrecisionInt8 = "int8"
	PrecisionFP32 = "fp32"
)

// NormalizePrecision maps user input to a canonical precision name.
// Empty input selects the int8 default; "float32" is accepted for fp32.
func NormalizePrecision(raw string) (string, error) {
	precision := strings.ToLower(strings.TrimSpace(raw))
	if precision == "" {
		precision = PrecisionInt8
	}
	switch precision {
	case PrecisionInt8, PrecisionFP32:
		return precision, nil
	case "float32":
		return PrecisionFP32, nil
	default:
		return "", fmt.Errorf(
			"invalid precision %q (expected %s|%s)",
			raw,
			PrecisionInt8,
			PrecisionFP32,
		)
	}
}
