package simmodels

// LatencyModel injects a deterministic delay between a command's issuance
// and its effect becoming visible to the matching engine. All delays are in
// nanoseconds; the base latency is added to every command on top of the
// per-operation latency.
type LatencyModel struct {
	BaseNs   int64
	InsertNs int64
	UpdateNs int64
	CancelNs int64
}

// ZeroLatency applies commands immediately.
func ZeroLatency() *LatencyModel {
	return &LatencyModel{}
}

// NewLatencyModel returns a fixed-delay latency model.
func NewLatencyModel(baseNs, insertNs, updateNs, cancelNs int64) *LatencyModel {
	return &LatencyModel{BaseNs: baseNs, InsertNs: insertNs, UpdateNs: updateNs, CancelNs: cancelNs}
}

// InsertLatency returns the total delay for submit commands.
func (m *LatencyModel) InsertLatency() int64 { return m.BaseNs + m.InsertNs }

// UpdateLatency returns the total delay for modify commands.
func (m *LatencyModel) UpdateLatency() int64 { return m.BaseNs + m.UpdateNs }

// CancelLatency returns the total delay for cancel commands.
func (m *LatencyModel) CancelLatency() int64 { return m.BaseNs + m.CancelNs }
