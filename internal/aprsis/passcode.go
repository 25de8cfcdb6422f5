package aprsis

// Passcode computes the legacy APRS-IS login passcode (spec.md §4.8,
// §6: "h = 29666; for c in uppercase(login) while c ∈ [A-Z0-9]: h ^= c *
// (alternating 256, 1)").
//
// Grounded on original_source/aprsis.c's aprspass(), with one deliberate
// correction: the original uppercases the scanned byte only to decide
// whether to keep looping, but XORs in the *original*, possibly
// lowercase, byte -- which would make passcode(s) != passcode(upper(s))
// for mixed-case input, contradicting spec.md §8's passcode-determinism
// property. This implementation folds in the uppercased byte, so the
// function is case-insensitive end to end (see SPEC_FULL.md §8).
func Passcode(login string) int {
	h := 29666
	alt := false
	for i := 0; i < len(login); i++ {
		c := login[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')) {
			break
		}
		mult := 256
		if alt {
			mult = 1
		}
		h ^= int(c) * mult
		alt = !alt
	}
	return h & 0x7fff
}
