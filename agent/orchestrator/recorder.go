package orchestrator

import "time"

// Recorder receives execution metrics. *metrics.Collector satisfies it.
type Recorder interface {
	RecordTaskExecution(agentID, taskType, status string, duration time.Duration)
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, cost float64)
	RecordGateDecision(gate, outcome string)
	RecordContextOperation(operation, status string)
	TaskStarted()
	TaskFinished()
}

type nopRecorder struct{}

func (nopRecorder) RecordTaskExecution(string, string, string, time.Duration)                 {}
func (nopRecorder) RecordLLMRequest(string, string, string, time.Duration, int, int, float64) {}
func (nopRecorder) RecordGateDecision(string, string)                                         {}
func (nopRecorder) RecordContextOperation(string, string)                                     {}
func (nopRecorder) TaskStarted()                                                              {}
func (nopRecorder) TaskFinished()                                                             {}
