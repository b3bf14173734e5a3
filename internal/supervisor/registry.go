package supervisor

import (
	"sync"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// processRegistry tracks live child handles by job id behind one lock. The
// handles are internal to the supervisor; nothing outside this package ever
// sees a process object.
type processRegistry struct {
	mu    sync.Mutex
	procs map[string]scrape.Process
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{procs: map[string]scrape.Process{}}
}

func (r *processRegistry) register(jobID string, p scrape.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[jobID] = p
}

func (r *processRegistry) unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, jobID)
}

func (r *processRegistry) get(jobID string) (scrape.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[jobID]
	return p, ok
}
