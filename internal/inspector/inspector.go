// Package inspector walks an arbitrary document set and produces a
// structural type report — or, in MappingMode, a search-index mapping
// consumable by internal/index's elasticsearch adapter.
package inspector

import (
	"context"
	"iter"
	"math"
	"sort"
	"strings"

	"github.com/biohub-dev/biohub/internal/huberrors"
	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// Mode selects the depth of the produced report.
type Mode int

const (
	TypeMode Mode = iota
	StatsMode
	DeepStatsMode
	MappingMode
)

const (
	TypeString   = "str"
	TypeSplitStr = "splitstr"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeBool     = "bool"
	TypeNull     = "null"
)

// LeafStats accumulates numeric observations for Stats/DeepStats modes.
type LeafStats struct {
	Count  int       `json:"count"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Mean   float64   `json:"mean,omitempty"`
	Median float64   `json:"median,omitempty"`
	Stdev  float64   `json:"stdev,omitempty"`
	values []float64 `json:"-"`
}

// TypeNode is one key's position in the inspected document tree: either
// a scalar (Types populated), an object (Children populated), or a list
// (IsList true, Elem describes the element type).
type TypeNode struct {
	Types    map[string]bool      `json:"types,omitempty"`
	Children map[string]*TypeNode `json:"children,omitempty"`
	IsList   bool                 `json:"is_list,omitempty"`
	Elem     *TypeNode            `json:"elem,omitempty"`
	Stats    *LeafStats           `json:"stats,omitempty"`
}

func newTypeNode() *TypeNode {
	return &TypeNode{Types: map[string]bool{}}
}

// Report is Inspect's result.
type Report struct {
	Mode    Mode
	Root    *TypeNode
	Mapping map[string]any
	Errors  []error
}

// Inspect walks docs once, building a type tree (and, in MappingMode, a
// search-index mapping). It never returns early on a malformed
// document — violations are collected as location-tagged
// huberrors.DataIntegrity errors in Report.Errors — except for context
// cancellation, which aborts the walk immediately.
func Inspect(ctx context.Context, docs iter.Seq[hubtypes.Document], mode Mode) (*Report, error) {
	root := newTypeNode()
	var errs []error

	n := 0
	for doc := range docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if mode == MappingMode {
			if id, ok := doc["_id"]; !ok {
				errs = append(errs, huberrors.DataIntegrity("inspector: document %d is missing _id", n))
			} else if _, ok := id.(string); !ok {
				errs = append(errs, huberrors.DataIntegrity("inspector: document %d has a non-string _id", n))
			}
		}

		mergeValue(root, map[string]any(doc), mode, &errs, "", n)
		n++
	}

	if mode == StatsMode || mode == DeepStatsMode {
		finalizeStats(root, mode == DeepStatsMode)
	}

	report := &Report{Mode: mode, Root: root, Errors: errs}
	if mode == MappingMode {
		report.Mapping = buildMapping(root)
	}
	return report, nil
}

func mergeValue(node *TypeNode, value any, mode Mode, errs *[]error, path string, docIndex int) {
	if value == nil {
		node.Types[TypeNull] = true
		return
	}

	switch v := value.(type) {
	case []any:
		promoteToList(node)
		for _, elem := range v {
			mergeValue(node.Elem, elem, mode, errs, path, docIndex)
		}
	case map[string]any:
		target := node
		if node.IsList {
			target = node.Elem
		}
		if target.Children == nil {
			target.Children = map[string]*TypeNode{}
		}
		for k, vv := range v {
			child, ok := target.Children[k]
			if !ok {
				child = newTypeNode()
				target.Children[k] = child
			}
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			mergeValue(child, vv, mode, errs, childPath, docIndex)
		}
	default:
		target := node
		if node.IsList {
			target = node.Elem
		}
		mergeScalar(target, value, mode, errs, path, docIndex)
	}
}

// promoteToList marks node as a list, migrating any scalar types and
// object children already recorded directly on it into its Elem node —
// the scalar/list reconciliation the spec requires regardless of
// whether the scalar or the list observation came first.
func promoteToList(node *TypeNode) {
	if node.Elem == nil {
		node.Elem = newTypeNode()
	}
	if !node.IsList {
		node.IsList = true
		for t := range node.Types {
			node.Elem.Types[t] = true
		}
		node.Types = map[string]bool{}
		if node.Children != nil {
			if node.Elem.Children == nil {
				node.Elem.Children = node.Children
			} else {
				for k, c := range node.Children {
					node.Elem.Children[k] = c
				}
			}
			node.Children = nil
		}
		if node.Stats != nil {
			node.Elem.Stats = node.Stats
			node.Stats = nil
		}
	}
}

func mergeScalar(node *TypeNode, value any, mode Mode, errs *[]error, path string, docIndex int) {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, " \t\n") {
			node.Types[TypeSplitStr] = true
		} else {
			node.Types[TypeString] = true
		}
	case bool:
		node.Types[TypeBool] = true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			*errs = append(*errs, huberrors.DataIntegrity("inspector: document %d field %q has non-finite value", docIndex, path))
			return
		}
		if v == math.Trunc(v) {
			node.Types[TypeInt] = true
		} else {
			node.Types[TypeFloat] = true
		}
		recordStat(node, mode, v)
	case int, int32, int64:
		node.Types[TypeInt] = true
	default:
		node.Types[TypeString] = true
	}
}

func recordStat(node *TypeNode, mode Mode, v float64) {
	if mode != StatsMode && mode != DeepStatsMode {
		return
	}
	if node.Stats == nil {
		node.Stats = &LeafStats{Min: v, Max: v}
	}
	s := node.Stats
	s.Count++
	if v < s.Min {
		s.Min = v
	}
	if v > s.Max {
		s.Max = v
	}
	if mode == DeepStatsMode {
		s.values = append(s.values, v)
	}
}

func finalizeStats(node *TypeNode, deep bool) {
	if node.Stats != nil && deep {
		vals := append([]float64(nil), node.Stats.values...)
		sort.Float64s(vals)
		node.Stats.Mean = mean(vals)
		node.Stats.Median = median(vals)
		node.Stats.Stdev = stdev(vals, node.Stats.Mean)
	}
	if node.Elem != nil {
		finalizeStats(node.Elem, deep)
	}
	for _, c := range node.Children {
		finalizeStats(c, deep)
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

func stdev(vals []float64, m float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range vals {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}

// buildMapping collapses a type tree into an Elasticsearch
// `mappings.properties` shape: splitstr > str, float > int, and an
// object/array pair observed at the same key is emitted as a union
// (the array's element properties carrying the merged keys).
func buildMapping(node *TypeNode) map[string]any {
	target := node
	if node.IsList {
		target = node.Elem
	}

	if len(target.Children) > 0 {
		props := map[string]any{}
		for k, c := range target.Children {
			props[k] = buildMapping(c)
		}
		return map[string]any{"properties": props}
	}

	return map[string]any{"type": esTypeOf(target.Types)}
}

func esTypeOf(types map[string]bool) string {
	if types[TypeSplitStr] {
		return "text"
	}
	if types[TypeString] {
		return "keyword"
	}
	if types[TypeFloat] {
		return "float"
	}
	if types[TypeInt] {
		return "long"
	}
	if types[TypeBool] {
		return "boolean"
	}
	return "keyword"
}
