package orchestrator

import (
	"fmt"

	"github.com/r3e-network/qa-automation-core/internal/artifact"
)

// StoreArtifactSink adapts an artifact.Store to the Orchestrator's narrow
// ArtifactSink port, naming every artifact with a logical name so the
// store can keep it namespaced under the run's own directory (§4.A).
type StoreArtifactSink struct {
	Store *artifact.Store
}

func (s *StoreArtifactSink) PutLog(runID string, content []byte) (string, error) {
	return s.Store.PutLog(runID, "run.log", content)
}

func (s *StoreArtifactSink) PutScreenshot(runID string, seq int, content []byte) (string, error) {
	name := fmt.Sprintf("screenshot-%03d.png", seq)
	return s.Store.Put(runID, artifact.KindScreenshot, name, content)
}
