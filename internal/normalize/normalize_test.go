package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	assert.Equal(t, "BTC", Text("  BTC ", ""))
	assert.Equal(t, "fallback", Text("", "fallback"))
	assert.Equal(t, "fallback", Text("   ", "fallback"))
}

func TestDecimalPlainValues(t *testing.T) {
	assert.Equal(t, "123", Decimal("123", "0"))
	assert.Equal(t, "123.45", Decimal("123.45", "0"))
	assert.Equal(t, "-5.5", Decimal("-5.5", "0"))
	assert.Equal(t, "0", Decimal("0", "0"))
	assert.Equal(t, "0", Decimal("0.000", "0"))
}

func TestDecimalScientificNotation(t *testing.T) {
	assert.Equal(t, "0.000123", Decimal("1.23e-4", "0"))
	assert.Equal(t, "0.000123", Decimal("1.23E-4", "0"))
	assert.Equal(t, "12300", Decimal("1.23e4", "0"))
}

func TestDecimalRepairsMissingExponentMarker(t *testing.T) {
	// "2.33-7" is scientific notation with a dropped 'e'.
	assert.Equal(t, "0.000000233", Decimal("2.33-7", "0"))
	assert.Equal(t, "0.000123", Decimal("1.23-4", "0"))
	assert.Equal(t, "0.000123", Decimal("1.23-04", "0"))
}

func TestDecimalNeverEmitsScientificNotation(t *testing.T) {
	got := Decimal("1e-8", "0")
	assert.Equal(t, "0.00000001", got)
	assert.NotContains(t, got, "e")

	got = Decimal("2e15", "0")
	assert.Equal(t, "2000000000000000", got)
	assert.NotContains(t, got, "e")
}

func TestDecimalDirtyInput(t *testing.T) {
	assert.Equal(t, "0", Decimal("abc", "0"))
	assert.Equal(t, "1234.5", Decimal("$1,234.5", "0"))
	assert.Equal(t, "0", Decimal("", "0"))
	assert.Equal(t, "0", Decimal("--", "0"))
	assert.Equal(t, "7", Decimal(" 7 ", "0"))
}

func TestDecimalCustomDefault(t *testing.T) {
	assert.Equal(t, "1", Decimal("junk", "1"))
}

func TestInteger(t *testing.T) {
	assert.Equal(t, "12", Integer("12a-3b4", "0"))
	assert.Equal(t, "0", Integer("", "0"))
	assert.Equal(t, "42", Integer("42", "0"))
	assert.Equal(t, "-42", Integer("-42", "0"))
	assert.Equal(t, "17", Integer("1a7", "0"))
	assert.Equal(t, "0", Integer("abc", "0"))
	assert.Equal(t, "0", Integer("-", "0"))
}
