package drone

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

const InsertComplete = "Insert complete"

type (
	//the drone log collection. pages are numbered from 1, an empty page ends the collection.
	LogSource interface {
		FetchLogPage(ctx context.Context, page int) ([]*Record, error)
		CreateLog(ctx context.Context, entry []byte) ([]byte, error)
	}

	//lists and appends drone logs
	LogAggregator struct {
		source   LogSource
		droneID  float64           // default identifier of ListLogs
		fields   map[string]string // merged last into every appended log
		maxPages int               // zero or negative: unbounded
	}

	AppendResult struct {
		Message       string          `json:"message"`
		InputCelsius  json.RawMessage `json:"input_celsius"`
		GeneratedData json.RawMessage `json:"generated_data"`
	}

	//walks a paginated log source one page at a time, starting at page 1.
	//it stops at the first empty page, which is the only end-of-data signal.
	Pager struct {
		source   LogSource
		maxPages int
		page     int
		records  []*Record
		err      error
		done     bool
	}
)

func NewLogAggregator(source LogSource, droneID float64, fields map[string]string, maxPages int) *LogAggregator {

	fixed := make(map[string]string, len(fields))
	for k, v := range fields {
		fixed[k] = v
	}

	return &LogAggregator{
		source:   source,
		droneID:  droneID,
		fields:   fixed,
		maxPages: maxPages,
	}
}

// returns every log of the default drone
func (a *LogAggregator) ListLogs(ctx context.Context) ([]*Record, error) {
	return a.ListLogsFor(ctx, a.droneID)
}

// walks the whole log collection and returns the logs of one drone in page order.
// a failing page fails the whole listing, nothing collected before it is returned.
func (a *LogAggregator) ListLogsFor(ctx context.Context, droneID float64) ([]*Record, error) {

	logs := make([]*Record, 0)

	pager := NewPager(a.source, a.maxPages)
	for pager.Next(ctx) {
		logs = append(logs, FilterByID(pager.Records(), droneID)...)
	}

	if err := pager.Err(); err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "could not fetch log page %d: %v", pager.Page(), err)
	}

	return logs, nil
}

// sends a new log holding celsius and the fixed fields to the log store
func (a *LogAggregator) AppendLog(ctx context.Context, celsius *fastjson.Value) (*AppendResult, error) {

	if !truthy(celsius) {
		return nil, errors.Wrap(ErrMissingField, FieldCelsius)
	}

	created, err := a.source.CreateLog(ctx, a.newEntry(celsius))
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamWriteFailed, "could not create log: %v", err)
	}

	return &AppendResult{
		Message:       InsertComplete,
		InputCelsius:  celsius.MarshalTo(nil),
		GeneratedData: created,
	}, nil
}

// fixed fields are set after celsius so they win on conflicting keys
func (a *LogAggregator) newEntry(celsius *fastjson.Value) []byte {
	var arena fastjson.Arena

	entry := arena.NewObject()
	entry.Set(FieldCelsius, celsius)

	keys := make([]string, 0, len(a.fields))
	for k := range a.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entry.Set(k, arena.NewString(a.fields[k]))
	}

	return entry.MarshalTo(nil)
}

// maxPages caps the number of data pages, zero or negative leaves it unbounded
func NewPager(source LogSource, maxPages int) *Pager {
	return &Pager{source: source, maxPages: maxPages}
}

// fetches the next page. it returns false on the first empty page or on error,
// Err tells both apart.
func (p *Pager) Next(ctx context.Context) bool {

	if p.done {
		return false
	}

	p.records = nil
	p.page++

	if err := ctx.Err(); err != nil {
		p.done = true
		p.err = err
		return false
	}

	records, err := p.source.FetchLogPage(ctx, p.page)
	if err != nil {
		p.done = true
		p.err = err
		return false
	}

	if len(records) == 0 {
		p.done = true
		return false
	}

	//only data pages count, the empty page after the last allowed one is still fetched
	if p.maxPages > 0 && p.page > p.maxPages {
		p.done = true
		p.err = errors.Errorf("log collection holds more than %d pages", p.maxPages)
		return false
	}

	p.records = records

	return true
}

// returns the records of the current page
func (p *Pager) Records() []*Record {
	return p.records
}

// returns the number of the last page fetched or attempted
func (p *Pager) Page() int {
	return p.page
}

func (p *Pager) Err() error {
	return p.err
}
