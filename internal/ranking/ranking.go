// internal/ranking/ranking.go
//
// Deterministic ordering of context models.
//
// Context
// -------
// Several models may compete for one request path or one context name.
// Compare defines a strict total order over models:
//
//  1. longer path first (more specific wins),
//  2. equal length but different path: lexical order, and the two do not
//     conflict because they serve disjoint paths,
//  3. same path: higher priority first,
//  4. lower registration id first (first registered wins),
//  5. lower construction sequence first (only reachable in tests).
//
// The same order decides path winners, name shadowing, and which model's
// settings govern a physical serving context shared by several models.
//
// Notes
// -----
//   - Comparisons never subtract, so extreme priorities and ids cannot
//     overflow into the wrong sign.
//   - Oxford commas, two spaces after periods.
package ranking

import (
	"cmp"
	"slices"
	"strings"

	"github.com/yanizio/whiteboard/internal/model"
)

// Compare returns a negative number when a ranks before b, a positive one
// when after, and zero only when a and b are the same model.
func Compare(a, b *model.ContextModel) int {
	pa, pb := a.Path(), b.Path()

	if c := cmp.Compare(len(pb), len(pa)); c != 0 {
		return c
	}
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority(), a.Priority()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID(), b.ID()); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq(), b.Seq())
}

// Sort orders models in place, best first.
func Sort(models []*model.ContextModel) {
	slices.SortFunc(models, Compare)
}

// Sorted returns a sorted copy of models.
func Sorted(models []*model.ContextModel) []*model.ContextModel {
	out := slices.Clone(models)
	Sort(out)
	return out
}

// Conflicting reports whether a and b compete for the same path.
func Conflicting(a, b *model.ContextModel) bool {
	return a.Path() == b.Path()
}

// Winner returns the best ranked model, or nil for an empty slice.
func Winner(models []*model.ContextModel) *model.ContextModel {
	if len(models) == 0 {
		return nil
	}
	return slices.MinFunc(models, Compare)
}

// MatchesPath reports whether a context mounted at contextPath serves
// requestPath.  Matching is by whole segments: "/app" serves "/app" and
// "/app/x" but not "/apple".  The root context serves everything.
func MatchesPath(contextPath, requestPath string) bool {
	requestPath = model.NormalizePath(requestPath)
	if contextPath == "/" || contextPath == requestPath {
		return true
	}
	return strings.HasPrefix(requestPath, contextPath) &&
		requestPath[len(contextPath)] == '/'
}
