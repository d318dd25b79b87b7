package world

// WorldMetrics is published by the loop goroutine at the end of every step.
// Readers get a copy; the zero value means no step has completed yet.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Wires        int `json:"wires"`
	Emitters     int `json:"emitters"`
	Clients      int `json:"clients"`
	LoadedChunks int `json:"loaded_chunks"`

	Cascades uint64 `json:"cascades"`
	Diverged uint64 `json:"diverged"`

	Backlog Backlog `json:"backlog"`

	StepMS float64 `json:"step_ms"`
}

// Backlog is the number of requests waiting on each loop channel.
type Backlog struct {
	Edits  int `json:"edits"`
	Joins  int `json:"joins"`
	Leaves int `json:"leaves"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	if m := w.metrics.Load(); m != nil {
		return *m
	}
	return WorldMetrics{}
}
