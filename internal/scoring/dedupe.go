package scoring

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ignite/provider-outreach/internal/domain"
)

var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "co": true, "corp": true, "corporation": true,
	"company": true, "ltd": true, "lp": true, "llp": true, "pllc": true, "the": true,
}

// NormalizeName folds case, strips accents and punctuation and drops legal
// suffixes: "Müller Plumbing, LLC" and "MULLER PLUMBING" normalize alike.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}
	s = cases.Fold().String(s)
	s = strings.ReplaceAll(s, "&", " and ")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !legalSuffixes[f] {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// locationBucket rounds coordinates to two decimals (about 0.7 mi) or falls
// back to the postal code.
func locationBucket(loc domain.Location) string {
	if loc.Coordinates != nil {
		return fmt.Sprintf("%.2f,%.2f", loc.Coordinates.Lat, loc.Coordinates.Lng)
	}
	if z := strings.ToLower(strings.TrimSpace(loc.PostalCode)); z != "" {
		return z
	}
	return "-"
}

// DedupKey returns the identity used to collapse the same provider seen
// through several tiers or pages.
func DedupKey(c domain.Candidate) string {
	return NormalizeName(c.Name) + "|" + locationBucket(c.Location)
}

// better reports whether a should win over b when they collapse.
// Arrival order breaks remaining ties, which callers get by passing the
// earlier candidate as b.
func better(a, b domain.Candidate) bool {
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() < b.Tier.Rank()
	}
	return a.Completeness() > b.Completeness()
}

// Dedupe collapses candidates sharing a dedup key or an external reference,
// transitively: a record matching one group by key and another by reference
// joins the two. The winner of each group is the best tier, then the most
// complete record, then the earliest arrival; its empty fields are filled
// from the others. Groups keep the order in which they were first seen.
func Dedupe(cands []domain.Candidate) []domain.Candidate {
	type group struct {
		seq    int
		key    string
		winner domain.Candidate
		others []domain.Candidate
		keys   []string
		refs   []string
		gone   bool
	}
	var groups []*group
	byKey := map[string]*group{}
	byRef := map[string]*group{}

	add := func(g *group, c domain.Candidate) {
		if better(c, g.winner) {
			g.others = append(g.others, g.winner)
			g.winner = c
		} else {
			g.others = append(g.others, c)
		}
	}
	// absorb folds src into dst, which was seen first.
	absorb := func(dst, src *group) {
		add(dst, src.winner)
		for _, o := range src.others {
			add(dst, o)
		}
		for _, k := range src.keys {
			byKey[k] = dst
		}
		for _, r := range src.refs {
			byRef[r] = dst
		}
		dst.keys = append(dst.keys, src.keys...)
		dst.refs = append(dst.refs, src.refs...)
		src.gone = true
	}

	for _, c := range cands {
		key := DedupKey(c)
		ref := c.ExternalRef.Key()
		g := byKey[key]
		if ref != "" {
			if rg := byRef[ref]; rg != nil {
				switch {
				case g == nil:
					g = rg
				case g != rg:
					if rg.seq < g.seq {
						g, rg = rg, g
					}
					absorb(g, rg)
				}
			}
		}
		if g == nil {
			g = &group{seq: len(groups), key: key, winner: c}
			groups = append(groups, g)
		} else {
			add(g, c)
		}
		if byKey[key] != g {
			byKey[key] = g
			g.keys = append(g.keys, key)
		}
		if ref != "" && byRef[ref] != g {
			byRef[ref] = g
			g.refs = append(g.refs, ref)
		}
	}

	out := make([]domain.Candidate, 0, len(groups))
	for _, g := range groups {
		if g.gone {
			continue
		}
		w := g.winner
		for _, o := range g.others {
			fillMissing(&w, o)
		}
		w.DedupKey = g.key
		out = append(out, w)
	}
	return out
}

func fillMissing(dst *domain.Candidate, src domain.Candidate) {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.Contact.Email, src.Contact.Email)
	fill(&dst.Contact.Phone, src.Contact.Phone)
	fill(&dst.Contact.FormURL, src.Contact.FormURL)
	fill(&dst.Contact.Website, src.Contact.Website)
	fill(&dst.Description, src.Description)
	fill(&dst.Location.Address, src.Location.Address)
	fill(&dst.Location.PostalCode, src.Location.PostalCode)
	if dst.Location.Coordinates == nil {
		dst.Location.Coordinates = src.Location.Coordinates
	}
	if dst.Reputation.Rating == nil {
		dst.Reputation.Rating = src.Reputation.Rating
		dst.Reputation.ReviewCount = src.Reputation.ReviewCount
	}
	if dst.Reputation.Licensed == nil {
		dst.Reputation.Licensed = src.Reputation.Licensed
	}
	if dst.PriceRange == nil {
		dst.PriceRange = src.PriceRange
	}
	if dst.ExternalRef.Key() == "" {
		dst.ExternalRef = src.ExternalRef
	}
	if len(dst.Categories) == 0 {
		dst.Categories = src.Categories
	}
	if len(dst.Specialties) == 0 {
		dst.Specialties = src.Specialties
	}
}
