package engine

import "time"

// SyncStatus is a point-in-time snapshot of the engine
type SyncStatus struct {
	IsOnline          bool       `json:"isOnline"`
	IsSyncing         bool       `json:"isSyncing"`
	LastSyncTime      *time.Time `json:"lastSyncTime"`
	PendingOperations int        `json:"pendingOperations"`
	FailedOperations  int        `json:"failedOperations"`

	// EvictedOperations counts operations dropped since the engine was built
	EvictedOperations int    `json:"evictedOperations"`
	Degraded          bool   `json:"degraded"`
	DegradedReason    string `json:"degradedReason,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

// GetSyncStatus composes connectivity, cycle state, queue counts and storage
// health
func (e *Engine) GetSyncStatus() SyncStatus {
	online := e.deps.Network.CurrentState()
	pending := e.deps.Queue.Len()
	failed := e.deps.Queue.FailedCount()
	queueDegraded, queueReason := e.deps.Queue.Degraded()

	e.mu.Lock()
	defer e.mu.Unlock()

	st := SyncStatus{
		IsOnline:          online,
		IsSyncing:         e.active > 0,
		LastSyncTime:      copyTime(e.lastSync),
		PendingOperations: pending,
		FailedOperations:  failed,
		EvictedOperations: e.evicted,
		LastError:         e.lastError,
	}

	switch {
	case queueDegraded:
		st.Degraded, st.DegradedReason = true, "queue storage: "+queueReason
	case e.storageErr != "":
		st.Degraded, st.DegradedReason = true, "last sync storage: "+e.storageErr
	}
	return st
}

// GetLastSyncTime returns the start time of the last cycle whose pull
// succeeded, nil if none
func (e *Engine) GetLastSyncTime() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyTime(e.lastSync)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
