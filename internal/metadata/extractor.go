// Package metadata extracts SAP IS-U domain metadata from free text.
//
// Extraction is pure pattern matching against curated vocabularies: it never
// fails, never touches the network, and the same input always yields the
// same output. Absence of matches yields empty results, not errors.
package metadata

import (
	"regexp"
	"sort"
	"strings"
)

// Metadata is the structured result of extraction. Slice fields are sorted
// and deduplicated; empty Topic/System mean "not inferred".
type Metadata struct {
	TCodes        []string
	Tables        []string
	CustomObjects []string
	Topic         string
	System        string
}

var (
	// Transaction codes follow the two-letters-two-digits shape (EC85, ES21).
	// The generic pattern over-matches, so hits are intersected with the
	// curated IS-U allow-list below.
	tcodePattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}\b`)

	// Table names: uppercase alphanumeric, 4+ chars. Also intersected with
	// the known-table list to avoid flagging arbitrary acronyms.
	tablePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{3,}\b`)

	// The Z/Y namespace is reserved for customer developments, so any token
	// matching it is flagged without an allow-list.
	customObjectPattern = regexp.MustCompile(`\b[ZY][A-Z0-9_]{2,}\b`)
)

// isuTCodes is the allow-list of common IS-U transaction codes.
var isuTCodes = map[string]bool{
	"EC85": true, "EC86": true, "EC87": true, "EC01": true, "EC02": true,
	"EC03": true, "EC10": true, "EC11": true,
	"ES21": true, "ES22": true, "ES23": true, "ES31": true, "ES32": true,
	"ES33": true, "ES41": true, "ES42": true,
	"EL31": true, "EL32": true, "EL33": true, "EL34": true, "EL35": true,
	"EL36": true, "EL37": true, "EL38": true,
}

// isuTables is the allow-list of common IS-U and FI-CA tables.
var isuTables = map[string]bool{
	"EABLG": true, "EABL": true, "EORDG": true, "EORD": true,
	"EVERG": true, "EVER": true, "EANLG": true, "EANL": true,
	"BUT000": true, "BUT020": true, "ADRC": true,
	"FKKVKP": true, "FKKVK": true, "ERCH": true, "ERCHC": true,
	"DFKKKO": true, "DFKKOP": true, "EUITRANS": true, "ESERVPROV": true,
	"TE410": true, "TE416": true,
}

// topicOrder fixes the priority used for both t-code mapping and keyword
// buckets; earlier entries win ties.
var topicOrder = []string{
	"billing", "move-in", "move-out", "device-management", "dunning", "contracts",
}

// topicTCodes maps topics to the transaction codes and tables that signal them.
var topicTCodes = map[string][]string{
	"billing":           {"EC85", "EC86", "EC87", "EABL", "EABLG"},
	"move-in":           {"ES21", "ES22", "ES23", "ES31"},
	"move-out":          {"ES32", "ES33", "ES41", "ES42"},
	"device-management": {"EL31", "EL32", "EL33", "EL34"},
	"dunning":           {"FKKVKP", "FKKVK", "DFKKKO"},
	"contracts":         {"EC01", "EC02", "EC03", "EC10"},
}

// topicKeywords holds lowercase keyword buckets, Spanish and English, used
// when no t-code or table decides the topic.
var topicKeywords = map[string][]string{
	"billing":           {"factura", "billing", "lectura", "consumo"},
	"move-in":           {"alta", "move-in", "conexion", "suministro"},
	"move-out":          {"baja", "move-out", "desconexion"},
	"device-management": {"aparato", "device", "contador", "medidor"},
	"dunning":           {"reclamacion", "dunning", "impago"},
	"contracts":         {"contrato", "contract"},
}

// Extract returns the SAP metadata found in text.
func Extract(text string) Metadata {
	upper := strings.ToUpper(text)

	tcodes := matchAllowed(tcodePattern, upper, isuTCodes)
	tables := matchAllowed(tablePattern, upper, isuTables)
	custom := dedupSorted(customObjectPattern.FindAllString(upper, -1))

	md := Metadata{
		TCodes:        tcodes,
		Tables:        tables,
		CustomObjects: custom,
		Topic:         inferTopic(tcodes, tables, text),
	}
	if len(md.TCodes) > 0 || len(md.Tables) > 0 {
		md.System = "IS-U"
	}
	return md
}

// HasCustomObjects reports whether text references the customer Z/Y
// namespace. Used by ingestion to auto-detect CLIENT_SPECIFIC scope.
func (m Metadata) HasCustomObjects() bool {
	return len(m.CustomObjects) > 0
}

func matchAllowed(re *regexp.Regexp, upper string, allowed map[string]bool) []string {
	var hits []string
	for _, tok := range re.FindAllString(upper, -1) {
		if allowed[tok] {
			hits = append(hits, tok)
		}
	}
	return dedupSorted(hits)
}

func dedupSorted(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

func inferTopic(tcodes, tables []string, text string) string {
	signals := make(map[string]bool, len(tcodes)+len(tables))
	for _, tc := range tcodes {
		signals[tc] = true
	}
	for _, tb := range tables {
		signals[tb] = true
	}

	// T-codes and tables are the strongest signal.
	for _, topic := range topicOrder {
		for _, code := range topicTCodes[topic] {
			if signals[code] {
				return topic
			}
		}
	}

	// Fall back to keyword buckets: the bucket with the most hits wins,
	// ties broken by the fixed priority order.
	lower := strings.ToLower(text)
	best := ""
	bestHits := 0
	for _, topic := range topicOrder {
		hits := 0
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = topic
			bestHits = hits
		}
	}
	return best
}
