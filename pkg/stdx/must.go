package stdx

// Must0 panics when err is not nil. For initialization paths where an
// error means the program cannot run at all.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v, panicking when err is not nil.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
