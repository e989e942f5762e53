package types

import "fmt"

// FractionRecord is the serializable form of a Fraction.
type FractionRecord struct {
	Whole       int64 `cbor:"w" json:"whole" bson:"whole"`
	Numerator   int64 `cbor:"n,omitempty" json:"numerator,omitempty" bson:"numerator,omitempty"`
	Denominator int64 `cbor:"d,omitempty" json:"denominator,omitempty" bson:"denominator,omitempty"`
}

// ToRecord converts f to its serializable form.
func (f Fraction) ToRecord() FractionRecord {
	if f.numerator == 0 {
		return FractionRecord{Whole: f.whole}
	}
	return FractionRecord{Whole: f.whole, Numerator: f.numerator, Denominator: f.denominator}
}

// ToFraction validates r and returns the Fraction it describes.
func (r FractionRecord) ToFraction() (Fraction, error) {
	if r.Numerator == 0 {
		return Whole(r.Whole), nil
	}
	if r.Denominator < 1 || r.Numerator < 0 {
		return Zero, fmt.Errorf("%w: malformed fraction %d %d/%d",
			ErrInvalidArgument, r.Whole, r.Numerator, r.Denominator)
	}
	return Of(r.Whole, r.Numerator, r.Denominator), nil
}
