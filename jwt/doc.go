// Package jwt encodes and decodes signed session tokens with an injectable
// clock, a clock-skew leeway and a strict split between expired and invalid.
package jwt
