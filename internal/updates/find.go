package updates

import "github.com/roach88/ptsync/internal/tl"

// FindUpdate returns the first update of type T in an RPC result.
//
// Results only approximately follow their documented shape, so a missing
// update is reported as a *TypeAssertionError rather than a panic.
func FindUpdate[T tl.Update](env tl.Envelope) (T, error) {
	var zero T

	var list []tl.Update
	actual := "nil"
	if env != nil {
		actual = env.TypeName()
	}
	switch e := env.(type) {
	case tl.Updates:
		list = e.Updates
	case tl.UpdatesCombined:
		list = e.Updates
	case tl.UpdateShort:
		list = []tl.Update{e.Update}
	}

	for _, u := range list {
		if v, ok := u.(T); ok {
			return v, nil
		}
	}
	return zero, &TypeAssertionError{
		Context:  "find update",
		Expected: zero.TypeName(),
		Actual:   actual,
	}
}
