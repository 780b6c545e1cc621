package bootstrap

import (
	"fmt"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Filter splits replicates into the retained set and a dropped count. A
// replicate is retained iff its fit converged and carries no diagnostics;
// anything else is dropped whole, with no repair or reweighting. Slots the
// run never reached before cancellation (nil) count toward neither side.
// The retained slice preserves replicate index order.
func Filter(replicates []*models.BootstrapReplicate) ([]*models.BootstrapReplicate, int) {
	var retained []*models.BootstrapReplicate
	dropped := 0
	for _, rep := range replicates {
		switch {
		case rep == nil:
		case rep.Retained():
			retained = append(retained, rep)
		default:
			dropped++
		}
	}
	return retained, dropped
}

// InsufficientReplicatesError reports that fewer replicates survived the
// filter than the configured minimum. The run produces no aggregates in
// this case.
type InsufficientReplicatesError struct {
	Retained int
	Required int
}

func (e *InsufficientReplicatesError) Error() string {
	return fmt.Sprintf("insufficient replicates: %d retained, %d required", e.Retained, e.Required)
}
