package flowrun

// ToPtr returns a pointer to the given value.
// Useful for filling optional pointer fields from literals.
func ToPtr[T any](v T) *T {
	return &v
}
