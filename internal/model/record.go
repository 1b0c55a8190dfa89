package model

import (
	"time"

	"tickerflow/internal/model/enum"
)

// RawRecord is one exchange update, tagged with the source that produced it.
// Fields keeps the loosely typed payload as received; numbers are held as
// json.Number so archived payloads round-trip without precision loss.
type RawRecord struct {
	Source    enum.Source
	Fields    map[string]any
	EventTime time.Time
}

// Envelope carries one flushed batch across to the upload worker.
// The sender must not touch Records after handing the envelope over.
type Envelope struct {
	Records    []map[string]any
	IngestedAt time.Time
	Source     enum.Source
}

// NewEnvelope builds an envelope from a flushed batch, stamped with the
// ingestion time in UTC.
func NewEnvelope(source enum.Source, batch []RawRecord, ingestedAt time.Time) Envelope {
	return Envelope{
		Records:    FieldsOf(batch),
		IngestedAt: ingestedAt.UTC(),
		Source:     source,
	}
}

// Item is the per-record unit re-batched by the upload worker.
type Item struct {
	Record     map[string]any
	IngestedAt time.Time
	Source     enum.Source
}

// Items unpacks an envelope into per-record items.
func (e Envelope) Items() []Item {
	items := make([]Item, len(e.Records))
	for i, record := range e.Records {
		items[i] = Item{
			Record:     record,
			IngestedAt: e.IngestedAt,
			Source:     e.Source,
		}
	}
	return items
}

// FieldsOf collects the payloads of a batch, preserving order.
func FieldsOf(batch []RawRecord) []map[string]any {
	out := make([]map[string]any, len(batch))
	for i := range batch {
		out[i] = batch[i].Fields
	}
	return out
}
