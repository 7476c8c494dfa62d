package browser

// Verdict is the reconciled view of a single scan call
type Verdict struct {
	DisplayKeys          []string
	HasNextPage          bool
	IsComplete           bool
	BackendReturnedExtra bool
}

// Infer reconciles an approximate scan result into a pagination verdict.
//
// The store's count is a hint: a call can return more keys than requested, or
// fewer while more data remains. A result that is neither definitely finished
// nor likely to have more (for example extra keys with a zero cursor but no
// completion flag) reports HasNextPage=false and IsComplete=false. That bias
// can end a listing one page early.
func Infer(requested int, rawKeys []string, returnedCursor string, declaredComplete bool) Verdict {
	display := rawKeys
	extra := false
	if requested >= 0 && len(rawKeys) > requested {
		display = rawKeys[:requested]
		extra = true
	}

	gotNoKeys := len(rawKeys) == 0
	cursorIsZero := returnedCursor == StartCursor

	definitelyNoMore := gotNoKeys ||
		(declaredComplete && cursorIsZero) ||
		(len(rawKeys) < requested && !extra)

	likelyHasMore := len(rawKeys) >= requested && !cursorIsZero && !declaredComplete

	return Verdict{
		DisplayKeys:          display,
		HasNextPage:          !definitelyNoMore && likelyHasMore,
		IsComplete:           definitelyNoMore,
		BackendReturnedExtra: extra,
	}
}
