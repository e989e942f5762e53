// Package types provides the quantity types used across Stockpile.
//
// Fraction is an exact rational quantity (whole + numerator/denominator).
// All arithmetic is integer-only and overflow is detected, never rounded
// into floating point. MutableFraction is the scratch variant a single
// store owns for in-place accumulation.
package types
