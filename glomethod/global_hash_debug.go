//go:build repa_debug

package glomethod

import "github.com/hirschsn/repa/index"

// GlobalHash returns the true global cell index behind a local-or-ghost
// index, a cross-rank cross-check only guaranteed under -tags repa_debug
// (spec.md §6/§7).
func (b *Base) GlobalHash(l index.LocalOrGhost) index.GlobalCellIndex {
	if lc, ok := l.Local(); ok {
		return b.PMap.LocalGlobal(lc)
	}
	gc, _ := l.GhostIdx()
	return b.PMap.GhostGlobal(gc)
}
