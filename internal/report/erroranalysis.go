package report

import (
	"math"
	"sort"
	"strings"

	"retrieval-audit-cli/internal/results"
)

// The error_analysis section digs into HTTP 500 responses on active-deal
// checks only. A 404 is an availability outcome; a 500 is the provider
// stack failing, which is what this section characterizes.

const maxPatternLen = 200

// ErrorOverview summarizes 500-error volume.
type ErrorOverview struct {
	Total500Errors             int     `json:"total_500_errors"`
	CIDsWithAny500Error        int     `json:"cids_with_any_500_error"`
	CIDsAllProvidersFailed     int     `json:"cids_all_providers_failed"`
	PercentageOfActiveDealCIDs float64 `json:"percentage_of_active_deal_cids"`
}

// PatternCount is one normalized error pattern with its share of a
// provider's 500s.
type PatternCount struct {
	Pattern    string  `json:"pattern"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ProviderErrors is the per-provider 500 breakdown.
type ProviderErrors struct {
	ProviderName   string         `json:"provider_name"`
	Total500Errors int            `json:"total_500_errors"`
	Categories     map[string]int `json:"categories"`
	TopPatterns    []PatternCount `json:"top_patterns"`
}

// PrepErrors is the per-preparation 500 breakdown.
type PrepErrors struct {
	Total500Errors int            `json:"total_500_errors"`
	Categories     map[string]int `json:"categories"`
}

// ComboCount is one cross-provider category combination among units where
// every active provider failed.
type ComboCount struct {
	Categories map[string]string `json:"categories"`
	Count      int               `json:"count"`
	Percentage float64           `json:"percentage"`
}

// FailCharacteristics describes a set of failing units.
type FailCharacteristics struct {
	TopCategoryCombinations []ComboCount   `json:"top_category_combinations,omitempty"`
	ByPreparation           map[string]int `json:"by_preparation"`
	ByFiletype              map[string]int `json:"by_filetype"`
	ByFilesizeBucket        map[string]int `json:"by_filesize_bucket"`
}

// CrossProviderAnalysis covers units with deals on two or more providers.
type CrossProviderAnalysis struct {
	CIDsWithMultipleProvidersAndErrors int                  `json:"cids_with_multiple_providers_and_errors"`
	AllProvidersFail                   int                  `json:"all_providers_fail"`
	SomeProvidersFail                  int                  `json:"some_providers_fail"`
	AllFailCharacteristics             *FailCharacteristics `json:"all_fail_characteristics,omitempty"`
	SomeFailCharacteristics            *FailCharacteristics `json:"some_fail_characteristics,omitempty"`
}

// CategoryCharacteristics ties an error category to the files it hits.
type CategoryCharacteristics struct {
	TotalErrors      int            `json:"total_errors"`
	ByFiletype       map[string]int `json:"by_filetype"`
	ByFilesizeBucket map[string]int `json:"by_filesize_bucket"`
}

// ErrorAnalysis is the full error_analysis report section.
type ErrorAnalysis struct {
	Scope               string                             `json:"scope"`
	Overview            ErrorOverview                      `json:"overview"`
	ByProvider          map[string]ProviderErrors          `json:"by_provider"`
	ByPreparation       map[string]PrepErrors              `json:"by_preparation"`
	CrossProvider       CrossProviderAnalysis              `json:"cross_provider_analysis"`
	FileCharacteristics map[string]CategoryCharacteristics `json:"file_characteristics_by_category"`
}

type failedUnit struct {
	preparation string
	fileType    string
	fileSize    *int64
	categories  map[string]string // provider name -> category
}

// ComputeErrorAnalysis walks enriched CID records and characterizes their
// HTTP 500 failures. providerNames supplies display names for providers
// that never appear with one in the data.
func ComputeErrorAnalysis(cidRecords []results.Record, providerNames map[string]string) ErrorAnalysis {
	total500 := 0
	cidsWithAny500 := make(map[string]struct{})
	cidsAllFailed := make(map[string]struct{})
	recordsWithDeals := 0

	provider500 := make(map[string]int)
	categoriesByProvider := make(map[string]map[string]int)
	patternsByProvider := make(map[string]map[string]int)
	categoriesByPrep := make(map[string]map[string]int)
	extByCategory := make(map[string]map[string]int)
	sizeByCategory := make(map[string]map[string]int)

	var allFail, someFail []failedUnit

	for _, rec := range cidRecords {
		if rec.CID == "" {
			continue
		}
		if len(rec.ActiveDealProviders) == 0 {
			continue
		}
		recordsWithDeals++

		prep := rec.Preparation
		if prep == "" {
			prep = "unknown"
		}
		fileType := rec.FileType
		if fileType == "" {
			fileType = "unknown"
		}

		any500 := false
		failures := 0
		unitCategories := make(map[string]string)

		for _, providerID := range rec.ActiveDealProviders {
			check, checked := rec.Checks[providerID]
			if !checked || check.StatusCode != 500 {
				continue
			}

			total500++
			any500 = true
			failures++

			category := Categorize(check.ResponseBody, check.ErrorMessage)
			pattern := truncatePattern(NormalizePattern(check.ResponseBody))
			unitCategories[providerID] = category

			provider500[providerID]++
			bump(categoriesByProvider, providerID, category)
			bump(patternsByProvider, providerID, pattern)
			bump(categoriesByPrep, prep, category)
			bump(extByCategory, category, fileType)
			bump(sizeByCategory, category, BucketFor(rec.FileSize))
		}

		if !any500 {
			continue
		}
		cidsWithAny500[rec.CID] = struct{}{}

		allFailed := failures == len(rec.ActiveDealProviders)
		if allFailed {
			cidsAllFailed[rec.CID] = struct{}{}
		}

		if len(rec.ActiveDealProviders) > 1 {
			unit := failedUnit{
				preparation: prep,
				fileType:    fileType,
				fileSize:    rec.FileSize,
				categories:  unitCategories,
			}
			if allFailed {
				allFail = append(allFail, unit)
			} else {
				someFail = append(someFail, unit)
			}
		}
	}

	percentage := 0.0
	if recordsWithDeals > 0 {
		percentage = round2(float64(len(cidsWithAny500)) / float64(recordsWithDeals) * 100)
	}

	byProvider := make(map[string]ProviderErrors, len(categoriesByProvider))
	for providerID, categories := range categoriesByProvider {
		byProvider[providerID] = ProviderErrors{
			ProviderName:   displayName(providerNames, providerID),
			Total500Errors: provider500[providerID],
			Categories:     categories,
			TopPatterns:    topPatterns(patternsByProvider[providerID], 5),
		}
	}

	byPrep := make(map[string]PrepErrors, len(categoriesByPrep))
	for prep, categories := range categoriesByPrep {
		total := 0
		for _, n := range categories {
			total += n
		}
		byPrep[prep] = PrepErrors{Total500Errors: total, Categories: categories}
	}

	fileCharacteristics := make(map[string]CategoryCharacteristics, len(extByCategory))
	for category, exts := range extByCategory {
		total := 0
		for _, n := range exts {
			total += n
		}
		fileCharacteristics[category] = CategoryCharacteristics{
			TotalErrors:      total,
			ByFiletype:       topCounts(exts, 10),
			ByFilesizeBucket: sizeByCategory[category],
		}
	}

	return ErrorAnalysis{
		Scope: "active_deals_only",
		Overview: ErrorOverview{
			Total500Errors:             total500,
			CIDsWithAny500Error:        len(cidsWithAny500),
			CIDsAllProvidersFailed:     len(cidsAllFailed),
			PercentageOfActiveDealCIDs: percentage,
		},
		ByProvider:          byProvider,
		ByPreparation:       byPrep,
		CrossProvider:       crossProviderAnalysis(allFail, someFail, providerNames),
		FileCharacteristics: fileCharacteristics,
	}
}

func crossProviderAnalysis(allFail, someFail []failedUnit, providerNames map[string]string) CrossProviderAnalysis {
	analysis := CrossProviderAnalysis{
		CIDsWithMultipleProvidersAndErrors: len(allFail) + len(someFail),
		AllProvidersFail:                   len(allFail),
		SomeProvidersFail:                  len(someFail),
	}
	if len(allFail) > 0 {
		ch := failCharacteristics(allFail)
		ch.TopCategoryCombinations = topCombos(allFail, providerNames, 5)
		analysis.AllFailCharacteristics = ch
	}
	if len(someFail) > 0 {
		analysis.SomeFailCharacteristics = failCharacteristics(someFail)
	}
	return analysis
}

func failCharacteristics(units []failedUnit) *FailCharacteristics {
	byPrep := make(map[string]int)
	byType := make(map[string]int)
	bySize := make(map[string]int)
	for _, u := range units {
		byPrep[u.preparation]++
		byType[u.fileType]++
		bySize[BucketFor(u.fileSize)]++
	}
	return &FailCharacteristics{
		ByPreparation:    byPrep,
		ByFiletype:       byType,
		ByFilesizeBucket: bySize,
	}
}

// topCombos ranks the category combinations observed across providers on
// all-fail units. A combination is keyed by its sorted provider categories
// so identical failure shapes group together.
func topCombos(units []failedUnit, providerNames map[string]string, limit int) []ComboCount {
	type combo struct {
		count  int
		sample map[string]string
	}
	combos := make(map[string]*combo)
	for _, u := range units {
		key := comboKey(u.categories)
		c, ok := combos[key]
		if !ok {
			c = &combo{sample: u.categories}
			combos[key] = c
		}
		c.count++
	}

	keys := make([]string, 0, len(combos))
	for k := range combos {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if combos[keys[i]].count != combos[keys[j]].count {
			return combos[keys[i]].count > combos[keys[j]].count
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]ComboCount, 0, len(keys))
	for _, k := range keys {
		c := combos[k]
		named := make(map[string]string, len(c.sample))
		for providerID, category := range c.sample {
			named[displayName(providerNames, providerID)] = category
		}
		out = append(out, ComboCount{
			Categories: named,
			Count:      c.count,
			Percentage: round1(float64(c.count) / float64(len(units)) * 100),
		})
	}
	return out
}

func comboKey(categories map[string]string) string {
	providerIDs := make([]string, 0, len(categories))
	for id := range categories {
		providerIDs = append(providerIDs, id)
	}
	sort.Strings(providerIDs)

	var b strings.Builder
	for _, id := range providerIDs {
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(categories[id])
		b.WriteByte('|')
	}
	return b.String()
}

func topPatterns(patterns map[string]int, limit int) []PatternCount {
	total := 0
	for _, n := range patterns {
		total += n
	}
	keys := make([]string, 0, len(patterns))
	for p := range patterns {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if patterns[keys[i]] != patterns[keys[j]] {
			return patterns[keys[i]] > patterns[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]PatternCount, 0, len(keys))
	for _, p := range keys {
		out = append(out, PatternCount{
			Pattern:    p,
			Count:      patterns[p],
			Percentage: round1(float64(patterns[p]) / float64(total) * 100),
		})
	}
	return out
}

// topCounts keeps the highest-count entries of a counter.
func topCounts(counts map[string]int, limit int) map[string]int {
	if len(counts) <= limit {
		return counts
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	top := make(map[string]int, limit)
	for _, k := range keys[:limit] {
		top[k] = counts[k]
	}
	return top
}

func truncatePattern(pattern string) string {
	if len(pattern) > maxPatternLen {
		return pattern[:maxPatternLen] + "..."
	}
	return pattern
}

func displayName(providerNames map[string]string, providerID string) string {
	if name, ok := providerNames[providerID]; ok && name != "" {
		return name
	}
	return providerID
}

func bump(m map[string]map[string]int, outer, inner string) {
	if m[outer] == nil {
		m[outer] = make(map[string]int)
	}
	m[outer][inner]++
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
