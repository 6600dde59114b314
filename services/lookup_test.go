package services

import (
	"context"
	"reflect"
	"testing"

	"github.com/vocabnest/vocabnest/utils"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hola, ¿qué tal?", []string{"hola", "qué", "tal"}},
		{"l'eau est-elle 'froide'?", []string{"l'eau", "est-elle", "froide"}},
		{"  --  ", []string{}},
		{"Año 2024", []string{"año", "2024"}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupIndexMatchText(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	seedEntry(t, db, u.ID, "gato", "gato", "cat")
	seedEntry(t, db, u.ID, "perro", "Perro", "dog")
	lookup := NewLookupIndex(db, utils.NewMemoryCache())

	res, err := lookup.MatchText(ctx, u.ID, "<p>El <b>gato</b> y el perro. El gato duerme.</p>")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalTokens != 8 || res.DistinctTokens != 5 {
		t.Errorf("token counts = %d/%d", res.TotalTokens, res.DistinctTokens)
	}
	if len(res.Known) != 2 || res.Known[0].Token != "gato" || res.Known[0].Count != 2 {
		t.Errorf("known = %+v", res.Known)
	}
	if !reflect.DeepEqual(res.Unknown, []string{"duerme", "el", "y"}) {
		t.Errorf("unknown = %v", res.Unknown)
	}
	if res.Coverage != 3.0/8.0 {
		t.Errorf("coverage = %v", res.Coverage)
	}

	hits, err := lookup.Lookup(ctx, u.ID, []string{"PERRO", "lobo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits["perro"][0].Back != "dog" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestLookupIndexCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ana")
	lookup := NewLookupIndex(db, utils.NewMemoryCache())

	if _, err := lookup.Get(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	seedEntry(t, db, u.ID, "sol", "sol", "sun")

	cached, _ := lookup.Get(ctx, u.ID)
	if cached.Metadata.EntryCount != 0 {
		t.Fatalf("expected cached empty index, got %+v", cached.Metadata)
	}
	lookup.Invalidate(ctx, u.ID)
	fresh, _ := lookup.Get(ctx, u.ID)
	if fresh.Metadata.EntryCount != 1 || fresh.Metadata.Version != LookupFormatVersion || fresh.Metadata.TotalTokens != 1 {
		t.Errorf("fresh metadata = %+v", fresh.Metadata)
	}
}
