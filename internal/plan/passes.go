package plan

import "github.com/openmined/remotesync/internal/config"

// CopyPass is one direction of the two-way copy of a batch.
type CopyPass struct {
	From      Side
	To        Side
	Overwrite bool
}

// Passes returns the source to destination pass followed by the destination to source pass.
// Only the pass leaving the side the size strategy trusts may overwrite existing files, the
// other one only fills in files missing on its target.
func Passes(sizeStrategy config.Strategy) []CopyPass {
	return []CopyPass{
		{From: SideSource, To: SideDest, Overwrite: sizeStrategy == config.StrategyMatchSource},
		{From: SideDest, To: SideSource, Overwrite: sizeStrategy == config.StrategyMatchDest},
	}
}
