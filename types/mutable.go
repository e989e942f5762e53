package types

// MutableFraction is an in-place accumulator for Fraction arithmetic.
// It is owned by a single store and never shared; hand out ToImmutable() copies
// across component boundaries instead.
type MutableFraction struct {
	v Fraction
}

// NewMutable creates a MutableFraction initialized to f.
func NewMutable(f Fraction) *MutableFraction {
	return &MutableFraction{v: f}
}

// Add adds other in place and returns m for chaining.
func (m *MutableFraction) Add(other Fraction) *MutableFraction {
	m.v = m.v.Add(other)
	return m
}

// Subtract subtracts other in place and returns m for chaining.
func (m *MutableFraction) Subtract(other Fraction) *MutableFraction {
	m.v = m.v.Subtract(other)
	return m
}

// Multiply multiplies in place by scalar.
func (m *MutableFraction) Multiply(scalar int64) *MutableFraction {
	m.v = m.v.Multiply(scalar)
	return m
}

// Set replaces the value with f.
func (m *MutableFraction) Set(f Fraction) *MutableFraction {
	m.v = f
	return m
}

// SetZero resets the value to zero.
func (m *MutableFraction) SetZero() *MutableFraction {
	m.v = Zero
	return m
}

// IsZero reports whether the value is zero.
func (m *MutableFraction) IsZero() bool { return m.v.IsZero() }

// IsNegative reports whether the value is below zero.
func (m *MutableFraction) IsNegative() bool { return m.v.IsNegative() }

// Compare compares the current value with other.
func (m *MutableFraction) Compare(other Fraction) int { return m.v.Compare(other) }

// ToImmutable returns a copy of the current value.
func (m *MutableFraction) ToImmutable() Fraction { return m.v }

// String implements fmt.Stringer.
func (m *MutableFraction) String() string { return m.v.String() }
