package types

// MessageType is the "type" field of an inbound detector message.
type MessageType string

const (
	MessageStart   MessageType = "start"
	MessageEnd     MessageType = "end"
	MessageImage   MessageType = "image"
	MessageUnknown MessageType = "unknown"
)

// Message is one decoded inbound message. Meta is set for start and end,
// Image for image messages. RawType keeps the wire value for unknown types.
type Message struct {
	Type    MessageType
	RawType string
	Meta    map[string]any
	Image   *Image
}

// Image is one detector readout. Channels maps threshold name to the
// resolved array payload (see ingest.Array and ingest.NDArray).
type Image struct {
	ImageID   int
	StartTime float64
	Channels  map[string]any
}

// EventType discriminates ResultEvent.
type EventType string

const (
	EventStart      EventType = "start"
	EventEnd        EventType = "end"
	EventData       EventType = "data"
	EventFrameCount EventType = "frame_count"
)

// ResultEvent is what workers send to the aggregator.
type ResultEvent struct {
	Type EventType

	// start, end
	Meta map[string]any

	// data
	Threshold string
	ImageID   int
	Timestamp float64
	Value     uint32

	// frame_count
	WorkerID string
	Count    int
}

func StartEvent(meta map[string]any) ResultEvent {
	return ResultEvent{Type: EventStart, Meta: meta}
}

func EndEvent(meta map[string]any) ResultEvent {
	return ResultEvent{Type: EventEnd, Meta: meta}
}

func DataEvent(threshold string, imageID int, timestamp float64, value uint32) ResultEvent {
	return ResultEvent{
		Type:      EventData,
		Threshold: threshold,
		ImageID:   imageID,
		Timestamp: timestamp,
		Value:     value,
	}
}

func FrameCountEvent(workerID string, count int) ResultEvent {
	return ResultEvent{Type: EventFrameCount, WorkerID: workerID, Count: count}
}
