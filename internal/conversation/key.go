// ABOUTME: Deterministic conversation key derivation for two-party threads
// ABOUTME: Symmetric in its participants: Key(a,b) == Key(b,a)

package conversation

// Key derives the conversation key for the unordered pair of participant
// ids. The pair is ordered by byte-wise comparison, which is total over
// strings, so the key is stable regardless of which side initiates.
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "conv:" + a + "_" + b
}
