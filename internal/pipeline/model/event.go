package model

import "encoding/json"

// Event is a single metered transfer consumed from the raw topic. Timestamp is
// source-assigned (unix seconds) and informational; window membership is
// decided by ingestion time against the aggregator clock.
type Event struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

func DecodeEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// WindowAcc is the accumulation carried by each windowed scan: total amount
// and in-window event count. Count is taken from the reducer's count argument,
// so it stays exact through both fold directions.
type WindowAcc struct {
	Total int64
	Count int
}

// WindowSnapshot is one accumulation emission, as published to sinks.
type WindowSnapshot struct {
	Window string `json:"window"`
	Total  int64  `json:"total"`
	Count  int    `json:"count"`
	TS     int64  `json:"ts"` // unix milli, emission time
}
