package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. A long, fixed instruction prompt sent with every invoice then
// costs full price only on the first call within the TTL.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
