// Package weight normalises post quantities to kilograms.
package weight

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidQuantity is returned when a quantity is not a finite,
	// non-negative number. The converted weight is 0.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrUnknownUnit is returned for units missing from the policy. The
	// quantity is counted as kilograms.
	ErrUnknownUnit = errors.New("unknown unit")
)

// Policy converts a post quantity to kilograms.
type Policy interface {
	// ToKG always returns a usable weight. A non-nil error explains
	// which fallback was applied.
	ToKG(quantity, unit string) (float64, error)
	Supports(unit string) bool
}

// DefaultFactors maps lower-case unit aliases to kilograms per unit.
var DefaultFactors = map[string]float64{
	"kilogram":  1,
	"kilograms": 1,
	"kg":        1,
	"ton":       1000,
	"tons":      1000,
	"tonne":     1000,
	"tonnes":    1000,
	"pound":     0.453592,
	"pounds":    0.453592,
	"lb":        0.453592,
	"lbs":       0.453592,
	"gram":      0.001,
	"grams":     0.001,
	"g":         0.001,
	"piece":     0.25,
	"pieces":    0.25,
	"item":      0.25,
	"items":     0.25,
}

// Table is a Policy backed by a unit factor table.
type Table struct {
	factors map[string]float64
}

// NewTable builds a table from factors. Keys are normalised to lower case.
func NewTable(factors map[string]float64) (*Table, error) {
	t := &Table{factors: make(map[string]float64, len(factors))}
	for unit, factor := range factors {
		if factor <= 0 || math.IsInf(factor, 0) || math.IsNaN(factor) {
			return nil, fmt.Errorf("weight factor for %q must be positive, got %v", unit, factor)
		}
		t.factors[normalizeUnit(unit)] = factor
	}
	return t, nil
}

// Default returns the built-in conversion table.
func Default() *Table {
	t, _ := NewTable(DefaultFactors)
	return t
}

// ToKG implements Policy.
func (t *Table) ToKG(quantity, unit string) (float64, error) {
	qty, err := ParseQuantity(quantity)
	if err != nil {
		return 0, err
	}
	factor, ok := t.factors[normalizeUnit(unit)]
	if !ok {
		return qty, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return qty * factor, nil
}

// Supports implements Policy.
func (t *Table) Supports(unit string) bool {
	_, ok := t.factors[normalizeUnit(unit)]
	return ok
}

// Units lists the supported unit aliases in sorted order.
func (t *Table) Units() []string {
	units := make([]string, 0, len(t.factors))
	for u := range t.factors {
		units = append(units, u)
	}
	sort.Strings(units)
	return units
}

// ParseQuantity parses a post quantity string.
func ParseQuantity(raw string) (float64, error) {
	qty, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || qty < 0 || math.IsInf(qty, 0) || math.IsNaN(qty) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return qty, nil
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

type fileFormat struct {
	// Replace drops the built-in table instead of merging into it.
	Replace bool               `yaml:"replace"`
	Units   map[string]float64 `yaml:"units"`
}

// Parse reads a YAML policy document.
func Parse(data []byte) (*Table, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse weight policy: %w", err)
	}
	factors := make(map[string]float64, len(DefaultFactors)+len(doc.Units))
	if !doc.Replace {
		for k, v := range DefaultFactors {
			factors[k] = v
		}
	}
	for k, v := range doc.Units {
		factors[k] = v
	}
	if len(factors) == 0 {
		return nil, errors.New("weight policy defines no units")
	}
	return NewTable(factors)
}

// LoadFile loads a policy file. An empty path yields the default table.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weight policy: %w", err)
	}
	return Parse(data)
}
