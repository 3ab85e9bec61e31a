package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9:_=\-]+$`)

func TestQueryKey_Determinism(t *testing.T) {
	k1 := QueryKey("towns", 3, "bbox", "bbox=[17.9,59.3,18.1,59.4] year=1950")
	k2 := QueryKey("towns", 3, "bbox", "bbox=[17.9,59.3,18.1,59.4] year=1950")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !safeKey.MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
	if !strings.HasPrefix(k1, "q:towns:g3:bbox:") {
		t.Fatalf("unexpected prefix: %s", k1)
	}
}

func TestQueryKey_SpacingVariantsProduceSameKey(t *testing.T) {
	a := "  bbox = [ 17.9 , 59.3 ,18.1, 59.4 ]   year=1950 "
	b := "bbox=[17.9,59.3,18.1,59.4] year=1950"
	if QueryKey(" towns ", 1, "bbox", a) != QueryKey("towns", 1, "bbox", b) {
		t.Fatalf("normalized keys differ")
	}
}

func TestQueryKey_GenerationAndKindSeparateEntries(t *testing.T) {
	p := "center=[18,59] r=1000"
	if QueryKey("towns", 1, "radius", p) == QueryKey("towns", 2, "radius", p) {
		t.Fatalf("generation must change the key")
	}
	if QueryKey("towns", 1, "radius", p) == QueryKey("towns", 1, "bbox", p) {
		t.Fatalf("kind must change the key")
	}
}

func TestQueryKey_UnicodeAndLongParams(t *testing.T) {
	long := strings.Repeat("name='Göteborg' 雪 ", 40)
	k := QueryKey("städer", 0, "grid", long)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	m := regexp.MustCompile(`:p=([^:]*):f=([0-9a-f]{16})$`).FindStringSubmatch(k)
	if len(m) != 3 {
		t.Fatalf("missing :p=...:f=<hex64> suffix in key: %s", k)
	}
	if len(m[1]) > maxParamTextLen {
		t.Fatalf("param text not truncated: %d", len(m[1]))
	}
	if QueryKey("städer", 0, "grid", long+"x") == k {
		t.Fatalf("hash must cover the untruncated text")
	}
}

func TestStorageKeys(t *testing.T) {
	cases := map[string]string{
		FeatureKey(" abc "):           "feat:abc",
		LayerSet("my layer"):          "layer:my_layer",
		LayerSet(""):                  "layer:_all",
		CellSet(7, "872a1008fffffff"): "cell:7:872a1008fffffff",
		OversizeSet(7):                "cell:7:_oversize",
		GenKey("roads/main"):          "gen:roads-main",
		GenKey(""):                    "gen:_all",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("key=%q want %q", got, want)
		}
	}
}
