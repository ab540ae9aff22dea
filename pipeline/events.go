package pipeline

import "github.com/zoobzio/capitan"

// Signals emitted by the engine and the streaming coordinator.
var (
	PipelineStarted = capitan.NewSignal("pipeline.started", "Pipeline run started")
	PipelineStopped = capitan.NewSignal("pipeline.stopped", "Pipeline run stopped")
	PlugStarted     = capitan.NewSignal("pipeline.plug.started", "Plug started")
	PlugStopped     = capitan.NewSignal("pipeline.plug.stopped", "Plug finished")
	PlugFailed      = capitan.NewSignal("pipeline.plug.failed", "Plug failed")
	StreamChunk     = capitan.NewSignal("pipeline.stream.chunk", "Stream element delivered")
	StreamCompleted = capitan.NewSignal("pipeline.stream.completed", "Stream finished")
)

// Field keys carried by the signals.
var (
	RequestIDKey  = capitan.NewStringKey("request_id")
	ProviderKey   = capitan.NewStringKey("provider")
	PlugKey       = capitan.NewStringKey("plug")
	StateKey      = capitan.NewStringKey("state")
	ReasonKey     = capitan.NewStringKey("reason")
	ErrorKey      = capitan.NewStringKey("error")
	DurationMsKey = capitan.NewIntKey("duration_ms")
	ChunkIndexKey = capitan.NewIntKey("chunk_index")
	ChunkCountKey = capitan.NewIntKey("chunk_count")
)

func requestFields(req *Request) []capitan.Field {
	return []capitan.Field{
		RequestIDKey.Field(req.ID),
		ProviderKey.Field(req.Provider),
	}
}
