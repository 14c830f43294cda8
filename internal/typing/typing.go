package typing

// Unit is the empty result of effects run only for their side effects.
type Unit = struct{}
