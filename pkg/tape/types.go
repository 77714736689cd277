// Package tape records the wire exchanges between a port and its kernel and
// serves them back for deterministic replay.
//
// While recording, a Recorder sits in front of a live invoke function and
// captures every request/response pair. During replay a Replayer answers
// from the tape alone and fails closed on anything it has not seen.
package tape

import "time"

// EntryType classifies a taped exchange.
type EntryType string

const (
	// EntryTypeExchange is a request that produced a response.
	EntryTypeExchange EntryType = "EXCHANGE"
	// EntryTypeTransportError is a request whose invoke call failed.
	EntryTypeTransportError EntryType = "TRANSPORT_ERROR"
)

// Entry is one recorded invoke call.
type Entry struct {
	Seq          uint64    `json:"seq"`
	Type         EntryType `json:"type"`
	OperationID  string    `json:"operation_id,omitempty"`
	RequestHash  string    `json:"request_hash"`
	Request      string    `json:"request"`
	ResponseHash string    `json:"response_hash,omitempty"`
	Response     string    `json:"response,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Manifest is the tape_manifest.json structure written next to a tape.
type Manifest struct {
	TapeID  string         `json:"tape_id"`
	Entries []ManifestItem `json:"entries"`
}

// ManifestItem references a tape entry by its hashes.
type ManifestItem struct {
	Seq          uint64    `json:"seq"`
	Type         EntryType `json:"type"`
	OperationID  string    `json:"operation_id,omitempty"`
	RequestHash  string    `json:"request_hash"`
	ResponseHash string    `json:"response_hash,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
}
