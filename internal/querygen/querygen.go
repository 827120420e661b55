// Package querygen builds search-engine queries from (datapoint, location,
// source-site pattern). Generation is pure: no I/O, no clocks, no side
// effects, so identical inputs always yield identical queries.
package querygen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// Base URLs of the known legal-code hosting platforms.
const (
	municodeURL      = "https://library.municode.com/"
	americanLegalURL = "https://codelibrary.amlegal.com/codes/"
	generalCodeURL   = "https://ecode360.com/"
	codePublishURL   = "https://www.codepublishing.com/"
)

// Platform source-site identifiers persisted with each query.
const (
	SourceMunicode      = "municode"
	SourceAmericanLegal = "american_legal"
	SourceGeneralCode   = "general_code"
	SourceCodePub       = "code_publishing_co"
	SourcePlaceDomain   = "place_domain"
)

// Generator constructs site-restricted, quoted-phrase queries for each
// hosting platform, expanding the datapoint through configured synonyms.
type Generator struct {
	hasher   pipeline.Hasher
	bucketer pipeline.Bucketer
	synonyms map[string][]string
}

// New builds a Generator. A nil synonym map falls back to the built-in
// table; datapoints absent from the table expand to just themselves.
func New(hasher pipeline.Hasher, bucketer pipeline.Bucketer, synonyms map[string][]string) *Generator {
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}
	return &Generator{hasher: hasher, bucketer: bucketer, synonyms: synonyms}
}

// DefaultSynonyms returns the built-in phrasing table for common datapoints.
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"sales tax": {
			"sales and use tax", "local option sales tax", "municipal sales tax",
			"transaction privilege tax", "gross receipts tax", "retail sales tax",
		},
		"income tax":   {"personal income tax", "corporate income tax"},
		"property tax": {"ad valorem tax", "real estate tax", "millage tax"},
	}
}

type builder struct {
	source string
	build  func(loc pipeline.Location, phrase string) (string, bool)
}

// Queries returns one Query per (platform, phrase) combination that applies
// to the location, deduplicated by query text. Platforms the location has no
// pattern for contribute zero queries; that is expected, not an error.
func (g *Generator) Queries(loc pipeline.Location, datapoint string, bucket string) []pipeline.Query {
	phrases := g.expand(datapoint)
	builders := []builder{
		{SourceMunicode, g.municodeQuery},
		{SourceAmericanLegal, g.americanLegalQuery},
		{SourceGeneralCode, g.generalCodeQuery},
		{SourceCodePub, g.codePublishingQuery},
		{SourcePlaceDomain, g.domainQuery},
	}

	seen := make(map[string]struct{})
	var queries []pipeline.Query
	for _, b := range builders {
		for _, phrase := range phrases {
			text, ok := b.build(loc, phrase)
			if !ok {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			queries = append(queries, pipeline.Query{
				QueryHash:  g.hasher.Key(fmt.Sprintf("%d", loc.GeoID), text, bucket),
				GeoID:      loc.GeoID,
				Datapoint:  datapoint,
				SourceSite: b.source,
				QueryText:  text,
				TimeBucket: bucket,
			})
		}
	}
	return queries
}

// expand returns the datapoint plus its configured synonyms, lower-cased
// and deduplicated, datapoint first and synonyms in sorted order so output
// is deterministic regardless of map iteration.
func (g *Generator) expand(datapoint string) []string {
	base := strings.ToLower(strings.TrimSpace(datapoint))
	out := []string{base}
	seen := map[string]struct{}{base: {}}

	syns := append([]string(nil), g.synonyms[base]...)
	sort.Strings(syns)
	for _, s := range syns {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// municodeQuery restricts the search to the location's municode library
// path: site:https://library.municode.com/tx/childress/ "sales tax".
func (g *Generator) municodeQuery(loc pipeline.Location, phrase string) (string, bool) {
	if loc.StateCode == "" || loc.PlaceName == "" {
		return "", false
	}
	slug := placeSlug(loc.PlaceName, "_")
	if slug == "" {
		return "", false
	}
	site := fmt.Sprintf("%s%s/%s/", municodeURL, strings.ToLower(loc.StateCode), slug)
	return fmt.Sprintf(`site:%s %q`, site, phrase), true
}

// americanLegalQuery targets the American Legal Publishing code library:
// site:https://codelibrary.amlegal.com/codes/walnutcreekca/latest/walnutcreek_ca/ "sales tax".
func (g *Generator) americanLegalQuery(loc pipeline.Location, phrase string) (string, bool) {
	if loc.StateCode == "" || loc.PlaceName == "" {
		return "", false
	}
	place := placeSlug(loc.PlaceName, "")
	if place == "" {
		return "", false
	}
	st := strings.ToLower(loc.StateCode)
	site := fmt.Sprintf("%s%s%s/latest/%s_%s/", americanLegalURL, place, st, place, st)
	return fmt.Sprintf(`site:%s %q`, site, phrase), true
}

// generalCodeQuery cannot predict eCode360 paths, so it pairs the site
// restriction with the quoted place name and state code.
func (g *Generator) generalCodeQuery(loc pipeline.Location, phrase string) (string, bool) {
	if loc.PlaceName == "" || loc.StateCode == "" {
		return "", false
	}
	return fmt.Sprintf(`site:%s %q %s %q`, generalCodeURL, loc.PlaceName, strings.ToUpper(loc.StateCode), phrase), true
}

func (g *Generator) codePublishingQuery(loc pipeline.Location, phrase string) (string, bool) {
	if loc.PlaceName == "" || loc.StateCode == "" {
		return "", false
	}
	return fmt.Sprintf(`site:%s %s %s %q`, codePublishURL, loc.PlaceName, strings.ToUpper(loc.StateCode), phrase), true
}

// domainQuery searches the municipality's own domain. Locations without a
// known domain yield no query for this platform.
func (g *Generator) domainQuery(loc pipeline.Location, phrase string) (string, bool) {
	domain := strings.TrimSpace(loc.DomainName)
	if domain == "" {
		return "", false
	}
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimSuffix(domain, "/")
	return fmt.Sprintf(`site:%s %q`, domain, phrase), true
}

// placeSlug turns "City of Walnut Creek" into "walnut_creek" (or
// "walnutcreek" with an empty separator). Directory place names prefix the
// government type, so only the portion after the last " of " is kept.
func placeSlug(placeName, sep string) string {
	name := placeName
	if idx := strings.LastIndex(name, " of "); idx >= 0 {
		name = name[idx+len(" of "):]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastSep := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteString(sep)
				lastSep = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), sep)
}
