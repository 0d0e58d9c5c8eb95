package providers

import "testing"

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("mock|anthropic:key1|openai:key2")
	if len(refs) != 3 {
		t.Fatalf("expected 3 providers got %d", len(refs))
	}
	if refs[1].Name != "anthropic" || refs[1].KeyAlias != "key1" {
		t.Fatalf("unexpected parse result: %+v", refs[1])
	}
}

func TestParseProviderListKeepsModelSuffix(t *testing.T) {
	refs := ParseProviderList(" ollama:qwen2.5:7b | ")
	if len(refs) != 1 || refs[0].KeyAlias != "qwen2.5:7b" {
		t.Fatalf("unexpected parse result: %+v", refs)
	}
}
