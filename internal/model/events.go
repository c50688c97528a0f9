package model

import "time"

// EventType identifies a progress event emitted during pipeline execution.
type EventType string

const (
	EventProcessingStart    EventType = "processing_start"
	EventExtractionComplete EventType = "extraction_complete"
	EventSavingStart        EventType = "saving_start"
	EventSavingComplete     EventType = "saving_complete"
	EventWarning            EventType = "warning"
	EventError              EventType = "error"
)

// ProgressEvent is a typed, ordered, one-way status notification sent from
// the pipeline to the originating client while a request is in flight.
type ProgressEvent struct {
	Type      EventType      `json:"type"`
	Message   string         `json:"message,omitempty"`
	Counts    *OutcomeCounts `json:"counts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OutcomeCounts summarizes a batch by bucket.
type OutcomeCounts struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}
