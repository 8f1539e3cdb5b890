// Package units converts the measurement units found in treatment records and drug models.
package units

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dimension groups units that can be converted into one another.
type Dimension string

const (
	DimensionNone          Dimension = "none"
	DimensionMass          Dimension = "mass"
	DimensionVolume        Dimension = "volume"
	DimensionConcentration Dimension = "concentration"
	DimensionTime          Dimension = "time"
	DimensionExposure      Dimension = "exposure" // concentration x time (AUC)
	DimensionLength        Dimension = "length"
)

var (
	ErrUnknownUnit  = errors.New("unknown unit")
	ErrIncompatible = errors.New("incompatible units")
)

// Unit is a symbol with its factor relative to the dimension's base unit.
// Base units: g, l, g/l, h, g*h/l, m.
type Unit struct {
	Symbol    string
	Dimension Dimension
	Factor    float64
}

var registry = map[string]Unit{}

func register(dim Dimension, factor float64, symbols ...string) {
	for _, s := range symbols {
		registry[s] = Unit{Symbol: s, Dimension: dim, Factor: factor}
	}
}

func init() {
	register(DimensionNone, 1, "", "-", "%")

	register(DimensionMass, 1000, "kg")
	register(DimensionMass, 1, "g")
	register(DimensionMass, 1e-3, "mg")
	register(DimensionMass, 1e-6, "ug", "µg", "mcg")
	register(DimensionMass, 1e-9, "ng")

	register(DimensionVolume, 1, "l", "L")
	register(DimensionVolume, 1e-1, "dl", "dL")
	register(DimensionVolume, 1e-3, "ml", "mL")

	register(DimensionConcentration, 1, "g/l", "mg/ml", "ug/ul")
	register(DimensionConcentration, 1e-1, "mg/dl")
	register(DimensionConcentration, 1e-3, "mg/l", "ug/ml", "µg/ml")
	register(DimensionConcentration, 1e-6, "ug/l", "µg/l", "ng/ml")
	register(DimensionConcentration, 1e-9, "ng/l")

	register(DimensionTime, 1.0/3600, "s", "sec")
	register(DimensionTime, 1.0/60, "min")
	register(DimensionTime, 1, "h")
	register(DimensionTime, 24, "d", "day", "days")
	register(DimensionTime, 24*7, "w", "week", "weeks")
	register(DimensionTime, 24*365, "y", "year", "years")

	register(DimensionExposure, 1, "g*h/l")
	register(DimensionExposure, 1e-3, "mg*h/l", "ug*h/ml")
	register(DimensionExposure, 1e-6, "ug*h/l", "ng*h/ml")

	register(DimensionLength, 1, "m")
	register(DimensionLength, 1e-2, "cm")
}

// Lookup returns the unit registered under symbol.
func Lookup(symbol string) (Unit, bool) {
	u, ok := registry[strings.TrimSpace(symbol)]
	return u, ok
}

// DimensionOf returns the dimension of symbol.
func DimensionOf(symbol string) (Dimension, error) {
	u, ok := Lookup(symbol)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
	}
	return u.Dimension, nil
}

// significantDigits bounds the precision of converted values. Factors are
// powers of ten or small integers, so anything beyond is rounding noise.
const significantDigits = 12

// Convert converts value expressed in from into to. The result is rounded to
// significantDigits so 1 mg compares equal to 1000 ug.
func Convert(value float64, from, to string) (float64, error) {
	src, ok := Lookup(from)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	dst, ok := Lookup(to)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	if src.Dimension != dst.Dimension {
		return 0, fmt.Errorf("%w: %s (%s) to %s (%s)", ErrIncompatible, from, src.Dimension, to, dst.Dimension)
	}
	if src.Factor == dst.Factor {
		return value, nil
	}
	return round(value * src.Factor / dst.Factor), nil
}

func round(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', significantDigits, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// Convertible reports whether from can be converted into to.
func Convertible(from, to string) bool {
	_, err := Convert(1, from, to)
	return err == nil
}
