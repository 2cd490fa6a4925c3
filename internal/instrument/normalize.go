package instrument

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rickgao/tickhub/internal/model"
)

// Raw is a loosely-typed instrument reference as callers build it
// (decoded JSON, YAML watchlists, UI payloads).
type Raw map[string]any

// Field names are compared after folding case and dropping '_' and '-',
// so "exchange_segment", "ExchangeSegment" and "exchangeSegment" all match.
var (
	segmentFields  = []string{"exchangesegment", "segment"}
	securityFields = []string{"securityid", "security"}
)

// Normalize converts a raw reference into the canonical wire key. A field
// given under several spellings must carry the same value everywhere.
func Normalize(raw Raw) (model.InstrumentKey, error) {
	segVals := lookup(raw, segmentFields)
	idVals := lookup(raw, securityFields)

	if len(segVals) == 0 {
		return model.InstrumentKey{}, invalid("exchange_segment", nil, "missing")
	}
	if len(idVals) == 0 {
		return model.InstrumentKey{}, invalid("security_id", nil, "missing")
	}

	seg, err := resolve("exchange_segment", segVals, normalizeSegment)
	if err != nil {
		return model.InstrumentKey{}, err
	}
	id, err := resolve("security_id", idVals, normalizeSecurityID)
	if err != nil {
		return model.InstrumentKey{}, err
	}

	return model.InstrumentKey{Segment: seg, SecurityID: id}, nil
}

// NormalizeAll normalizes a batch, dropping duplicates while keeping order.
// The first invalid entry fails the whole batch.
func NormalizeAll(raws []Raw) ([]model.InstrumentKey, error) {
	seen := make(map[model.InstrumentKey]struct{}, len(raws))
	keys := make([]model.InstrumentKey, 0, len(raws))
	for i, raw := range raws {
		key, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("instrument %d: %w", i, err)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// Parse parses the "SEGMENT:ID" form used in config watchlists and CLI flags.
func Parse(s string) (model.InstrumentKey, error) {
	seg, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return model.InstrumentKey{}, invalid("instrument", s, "expected SEGMENT:ID")
	}
	return Normalize(Raw{"segment": seg, "security_id": id})
}

// ParseAll parses a list of "SEGMENT:ID" strings, dropping duplicates.
func ParseAll(ss []string) ([]model.InstrumentKey, error) {
	raws := make([]Raw, 0, len(ss))
	for _, s := range ss {
		seg, id, ok := strings.Cut(strings.TrimSpace(s), ":")
		if !ok {
			return nil, invalid("instrument", s, "expected SEGMENT:ID")
		}
		raws = append(raws, Raw{"segment": seg, "security_id": id})
	}
	return NormalizeAll(raws)
}

// Sort orders keys by segment then security id.
func Sort(keys []model.InstrumentKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Segment != keys[j].Segment {
			return keys[i].Segment < keys[j].Segment
		}
		return keys[i].SecurityID < keys[j].SecurityID
	})
}

// lookup returns every non-nil value whose key folds to one of names,
// ordered by key so the outcome never depends on map iteration.
func lookup(raw Raw, names []string) []any {
	var keys []string
	for k, v := range raw {
		if v != nil && slices.Contains(names, foldKey(k)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = raw[k]
	}
	return vals
}

// resolve normalizes each candidate and rejects candidates that disagree.
func resolve[T comparable](field string, vals []any, norm func(any) (T, error)) (T, error) {
	var out T
	for i, v := range vals {
		got, err := norm(v)
		if err != nil {
			var zero T
			return zero, err
		}
		if i > 0 && got != out {
			var zero T
			return zero, invalid(field, v, "conflicting values")
		}
		out = got
	}
	return out, nil
}

func foldKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

func normalizeSegment(v any) (model.Segment, error) {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return "", invalid("exchange_segment", v, "empty")
		}
		seg := model.Segment(cases.Upper(language.Und).String(trimmed))
		if seg.Valid() {
			return seg, nil
		}
		// Numeric codes sometimes arrive as strings.
		if n, err := strconv.ParseUint(trimmed, 10, 8); err == nil {
			return segmentFromCode(n, v)
		}
		return "", invalid("exchange_segment", v, "unknown segment")
	case model.Segment:
		if !s.Valid() {
			return "", invalid("exchange_segment", v, "unknown segment")
		}
		return s, nil
	default:
		n, ok := asInteger(v)
		if !ok || n < 0 {
			return "", invalid("exchange_segment", v, "unsupported type")
		}
		return segmentFromCode(uint64(n), v)
	}
}

func segmentFromCode(n uint64, orig any) (model.Segment, error) {
	if n > math.MaxUint8 {
		return "", invalid("exchange_segment", orig, "unknown segment code")
	}
	seg, ok := model.SegmentFromCode(byte(n))
	if !ok {
		return "", invalid("exchange_segment", orig, "unknown segment code")
	}
	return seg, nil
}

// normalizeSecurityID coerces the id to its string form; the provider rejects
// numeric ids.
func normalizeSecurityID(v any) (string, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", invalid("security_id", v, "empty")
		}
		return s, nil
	}
	if n, ok := asInteger(v); ok {
		return strconv.FormatInt(n, 10), nil
	}
	return "", invalid("security_id", v, "unsupported type")
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func integralFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
