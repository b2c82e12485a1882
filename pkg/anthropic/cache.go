package anthropic

// CachedSystem wraps a static system prompt in a single block carrying a
// cache breakpoint. The extraction instructions and reference lists are the
// same for every message, so consecutive calls read them from the prompt
// cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: "5m"},
	}}
}
