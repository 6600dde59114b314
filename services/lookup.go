package services

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/metrics"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
)

// LookupFormatVersion changes whenever the cached envelope shape changes; older
// cached envelopes are rebuilt.
const LookupFormatVersion = 1

const lookupCacheTTL = 24 * time.Hour

// LookupHit is one vocabulary entry reachable from a token.
type LookupHit struct {
	ID       uint   `json:"id"`
	EntryKey string `json:"entryKey"`
	Front    string `json:"front"`
	Back     string `json:"back"`
}

// LookupMetadata describes a cached index.
type LookupMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Version     int       `json:"version"`
	EntryCount  int       `json:"entryCount"`
	TotalTokens int       `json:"totalTokens"`
}

// LookupEnvelope maps lowercase tokens to the entries they appear in.
type LookupEnvelope struct {
	Data     map[string][]LookupHit `json:"data"`
	Metadata LookupMetadata         `json:"metadata"`
}

// TokenMatch is a token of a text that hits the vocabulary.
type TokenMatch struct {
	Token   string      `json:"token"`
	Count   int         `json:"count"`
	Entries []LookupHit `json:"entries"`
}

// TextLookup is the result of matching a text against the vocabulary.
type TextLookup struct {
	TotalTokens    int          `json:"totalTokens"`
	DistinctTokens int          `json:"distinctTokens"`
	Known          []TokenMatch `json:"known"`
	Unknown        []string     `json:"unknown"`
	Coverage       float64      `json:"coverage"`
}

// LookupIndex owns the per-user token index. Entries live in the cache and are
// dropped on every vocabulary write.
type LookupIndex struct {
	db    *gorm.DB
	cache utils.Cache
	now   func() time.Time
}

// NewLookupIndex returns an index backed by db and cache.
func NewLookupIndex(db *gorm.DB, cache utils.Cache) *LookupIndex {
	return &LookupIndex{db: db, cache: cache, now: time.Now}
}

// Get returns the user's index, building it on a cache miss.
func (l *LookupIndex) Get(ctx context.Context, userID uint) (*LookupEnvelope, error) {
	var env LookupEnvelope
	if utils.CacheGetJSON(ctx, l.cache, lookupCacheKey(userID), &env) && env.Metadata.Version == LookupFormatVersion {
		return &env, nil
	}
	built, err := l.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	utils.CacheSetJSON(ctx, l.cache, lookupCacheKey(userID), built, lookupCacheTTL)
	return built, nil
}

// Invalidate drops the user's cached index.
func (l *LookupIndex) Invalidate(ctx context.Context, userID uint) {
	l.cache.Delete(ctx, lookupCacheKey(userID))
}

// Lookup returns the entries for each requested word. Words without hits are omitted.
func (l *LookupIndex) Lookup(ctx context.Context, userID uint, words []string) (map[string][]LookupHit, error) {
	env, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]LookupHit)
	for _, w := range words {
		key := normalizeKey(w)
		if hits, ok := env.Data[key]; ok {
			out[key] = hits
		}
	}
	return out, nil
}

// MatchText tokenizes markup or plain text and splits its tokens into known and unknown.
func (l *LookupIndex) MatchText(ctx context.Context, userID uint, text string) (*TextLookup, error) {
	env, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens := Tokenize(html.UnescapeString(utils.SanitizePlain(text)))
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	res := &TextLookup{TotalTokens: len(tokens), DistinctTokens: len(counts), Known: []TokenMatch{}, Unknown: []string{}}
	knownTokens := 0
	for tok, n := range counts {
		if hits, ok := env.Data[tok]; ok {
			res.Known = append(res.Known, TokenMatch{Token: tok, Count: n, Entries: hits})
			knownTokens += n
			continue
		}
		res.Unknown = append(res.Unknown, tok)
	}
	sort.Slice(res.Known, func(i, j int) bool { return res.Known[i].Token < res.Known[j].Token })
	sort.Strings(res.Unknown)
	if res.TotalTokens > 0 {
		res.Coverage = float64(knownTokens) / float64(res.TotalTokens)
	}
	return res, nil
}

func (l *LookupIndex) build(ctx context.Context, userID uint) (*LookupEnvelope, error) {
	start := time.Now()
	var entries []models.VocabEntry
	if err := l.db.WithContext(ctx).
		Select("id", "entry_key", "front", "back").
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	metrics.ObserveDBLatency(ctx, "lookup_build", start)

	data := make(map[string][]LookupHit)
	for _, e := range entries {
		hit := LookupHit{ID: e.ID, EntryKey: e.EntryKey, Front: e.Front, Back: e.Back}
		seen := map[string]bool{}
		for _, key := range append([]string{e.EntryKey}, Tokenize(e.Front)...) {
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			data[key] = append(data[key], hit)
		}
	}
	return &LookupEnvelope{
		Data: data,
		Metadata: LookupMetadata{
			LastUpdated: l.now().UTC(),
			Version:     LookupFormatVersion,
			EntryCount:  len(entries),
			TotalTokens: len(data),
		},
	}, nil
}

// Tokenize lowercases text and splits it into words. Apostrophes and hyphens inside a word are kept.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-' && r != '’'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-’")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// normalizeKey folds case and collapses whitespace.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func lookupCacheKey(userID uint) string {
	return "lookup:" + strconv.FormatUint(uint64(userID), 10)
}
