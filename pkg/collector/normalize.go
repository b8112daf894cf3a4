package collector

import (
	"auditpoller/pkg/tenable"

	"github.com/goccy/go-json"
)

// Record is an event that passed the watermark filter
type Record struct {
	Time int64
	Data json.RawMessage
}

// Batch is the outcome of processing one page against a window
type Batch struct {
	Records []Record
	// Returned is the number of events on the page
	Returned int
	// Skipped counts events at or before the watermark
	Skipped int
	// Rejected holds events whose timestamp could not be read
	Rejected []error
	// Capped is set when the page hit the request limit or the server holds more
	Capped bool
	// Truncated is set when End was forced forward to NextFloor
	Truncated   bool
	LostSeconds int64
	// End is the next watermark
	End int64
}

// ProcessPage filters page against w, normalizes the kept events and
// computes the next watermark. limit is the page size that was requested.
func ProcessPage(page *tenable.EventsPage, w Window, limit int) Batch {
	b := Batch{End: w.Watermark}
	if page == nil {
		return b
	}

	b.Returned = len(page.Events)
	for _, ev := range page.Events {
		ts, err := eventTime(ev)
		if err != nil {
			b.Rejected = append(b.Rejected, err)
			continue
		}
		if ts <= w.Watermark {
			b.Skipped++
			continue
		}

		data, err := json.Marshal(Normalize(ev))
		if err != nil {
			b.Rejected = append(b.Rejected, err)
			continue
		}

		if ts > b.End {
			b.End = ts
		}
		b.Records = append(b.Records, Record{Time: ts, Data: data})
	}

	b.Capped = (limit > 0 && b.Returned >= limit) || page.Pagination.Total > b.Returned
	if b.Capped && b.End < w.NextFloor {
		b.Truncated = true
		b.LostSeconds = w.NextFloor - b.End
		b.End = w.NextFloor
	}
	return b
}

// eventTime reads the "received" attribute of ev
func eventTime(ev tenable.RawEvent) (int64, error) {
	switch v := ev["received"].(type) {
	case string:
		return ParseTimestamp(v)
	case json.Number:
		return ParseTimestamp(v.String())
	case nil:
		return 0, &TimestampError{Value: ""}
	default:
		b, _ := json.Marshal(v)
		return 0, &TimestampError{Value: string(b)}
	}
}

// Normalize returns a copy of ev with "fields", a list of {key, value}
// objects, flattened into a single object. Later duplicates win. Entries
// without a string key are dropped.
func Normalize(ev tenable.RawEvent) tenable.RawEvent {
	out := make(tenable.RawEvent, len(ev))
	for k, v := range ev {
		out[k] = v
	}

	list, ok := ev["fields"].([]any)
	if !ok {
		return out
	}

	fields := make(map[string]any, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := entry["key"].(string)
		if !ok {
			continue
		}
		fields[key] = entry["value"]
	}
	out["fields"] = fields
	return out
}
