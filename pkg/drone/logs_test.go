package drone

import (
	"context"
	"testing"

	"github.com/Pallinder/go-randomdata"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

const targetID = 65010312

// pages[i] holds the raw records of page i+1, pages past the end are empty
type fakeLogSource struct {
	pages     [][]string
	failPage  int
	fetched   []int
	created   [][]byte
	createErr error
}

func (f *fakeLogSource) FetchLogPage(ctx context.Context, page int) ([]*Record, error) {
	f.fetched = append(f.fetched, page)

	if page == f.failPage {
		return nil, errors.Errorf("page %d: 502 Bad Gateway", page)
	}

	if page < 1 || page > len(f.pages) {
		return nil, nil
	}

	records := make([]*Record, 0, len(f.pages[page-1]))
	for _, raw := range f.pages[page-1] {
		r, err := ParseRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, nil
}

func (f *fakeLogSource) CreateLog(ctx context.Context, entry []byte) ([]byte, error) {
	f.created = append(f.created, entry)
	if f.createErr != nil {
		return nil, f.createErr
	}

	return []byte(`{"id":"r1","created":"2024-01-01 00:00:00.000Z"}`), nil
}

func newAggregator(source LogSource) *LogAggregator {
	return NewLogAggregator(source, targetID, map[string]string{
		"drone_id":   "65010312",
		"drone_name": "Natthapak",
		"country":    "Thailand",
	}, 0)
}

func Test_ListLogsFiltersAcrossPages(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":1,"seq":1}`, `{"drone_id":65010312,"seq":2}`},
		{`{"drone_id":65010312,"seq":3}`},
		{},
	}}

	logs, err := newAggregator(source).ListLogs(context.Background())
	require.NoError(t, err)

	require.Len(t, logs, 2)
	assert.Equal(t, 2, logs[0].Get("seq").GetInt())
	assert.Equal(t, 3, logs[1].Get("seq").GetInt())
	assert.Equal(t, []int{1, 2, 3}, source.fetched)
}

func Test_ListLogsKeepsPageThenRecordOrder(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":"65010312","seq":1}`, `{"drone_id":2,"seq":2}`, `{"drone_id":65010312,"seq":3}`},
		{`{"drone_id":2,"seq":4}`},
		{`{"drone_id":65010312,"seq":5}`, `{"drone_id":65010312,"seq":6}`},
	}}

	logs, err := newAggregator(source).ListLogs(context.Background())
	require.NoError(t, err)

	seqs := make([]int, 0, len(logs))
	for _, l := range logs {
		seqs = append(seqs, l.Get("seq").GetInt())
	}
	assert.Equal(t, []int{1, 3, 5, 6}, seqs)
	assert.Equal(t, []int{1, 2, 3, 4}, source.fetched)
}

func Test_ListLogsEmptyCollection(t *testing.T) {

	source := &fakeLogSource{}

	logs, err := newAggregator(source).ListLogs(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
	assert.Equal(t, []int{1}, source.fetched)
}

func Test_ListLogsForOtherDrone(t *testing.T) {

	id := randomdata.Number(1, 1000)
	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":65010312}`, `{"drone_id":` + FormatID(float64(id)) + `}`},
	}}

	logs, err := newAggregator(source).ListLogsFor(context.Background(), float64(id))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, float64(id), logs[0].ID())
}

func Test_ListLogsFailsWholesale(t *testing.T) {

	source := &fakeLogSource{
		pages: [][]string{
			{`{"drone_id":65010312,"seq":1}`},
			{`{"drone_id":65010312,"seq":2}`},
			{`{"drone_id":65010312,"seq":3}`},
		},
		failPage: 2,
	}

	logs, err := newAggregator(source).ListLogs(context.Background())
	require.Error(t, err)
	assert.Nil(t, logs, "no partial result may be returned")
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, []int{1, 2}, source.fetched, "a failed page must not be retried")
}

func Test_ListLogsPageLimit(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":65010312}`},
		{`{"drone_id":65010312}`},
		{`{"drone_id":65010312}`},
	}}

	aggregator := NewLogAggregator(source, targetID, nil, 2)
	logs, err := aggregator.ListLogs(context.Background())
	require.Error(t, err)
	assert.Nil(t, logs)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "more than 2 pages")
	assert.Equal(t, []int{1, 2, 3}, source.fetched)

	source.fetched = nil
	aggregator = NewLogAggregator(source, targetID, nil, 3)
	logs, err = aggregator.ListLogs(context.Background())
	require.NoError(t, err, "a collection of exactly as many data pages as the limit must be listed")
	assert.Len(t, logs, 3)
	assert.Equal(t, []int{1, 2, 3, 4}, source.fetched)
}

func Test_ListLogsSinglePageWithLimitOne(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":65010312,"seq":1}`},
	}}

	logs, err := NewLogAggregator(source, targetID, nil, 1).ListLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, []int{1, 2}, source.fetched)
}

func Test_ListLogsCancelledContext(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":65010312}`},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logs, err := newAggregator(source).ListLogs(ctx)
	require.Error(t, err)
	assert.Nil(t, logs)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Empty(t, source.fetched, "no page may be fetched once the caller is gone")
}

func Test_Pager(t *testing.T) {

	source := &fakeLogSource{pages: [][]string{
		{`{"drone_id":1}`, `{"drone_id":2}`},
		{`{"drone_id":3}`},
	}}

	pager := NewPager(source, 0)
	ctx := context.Background()

	require.True(t, pager.Next(ctx))
	assert.Equal(t, 1, pager.Page())
	assert.Len(t, pager.Records(), 2)

	require.True(t, pager.Next(ctx))
	assert.Equal(t, 2, pager.Page())
	assert.Len(t, pager.Records(), 1)

	assert.False(t, pager.Next(ctx))
	assert.Empty(t, pager.Records())
	assert.NoError(t, pager.Err())

	assert.False(t, pager.Next(ctx), "a finished pager must stay finished")
	assert.Equal(t, []int{1, 2, 3}, source.fetched)
}

func Test_AppendLogMissingCelsius(t *testing.T) {

	var arena fastjson.Arena
	for _, celsius := range []*fastjson.Value{nil, arena.NewString(""), arena.NewNull(), arena.NewNumberInt(0), arena.NewFalse()} {
		source := &fakeLogSource{}

		_, err := newAggregator(source).AppendLog(context.Background(), celsius)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingField))
		assert.Empty(t, source.created, "no call may reach the log store")
	}
}

func Test_AppendLogMergesFixedFields(t *testing.T) {

	var arena fastjson.Arena
	source := &fakeLogSource{}

	result, err := newAggregator(source).AppendLog(context.Background(), arena.NewString("36.6"))
	require.NoError(t, err)

	require.Len(t, source.created, 1)
	assert.JSONEq(t, `{"celsius":"36.6","drone_id":"65010312","drone_name":"Natthapak","country":"Thailand"}`, string(source.created[0]))

	assert.Equal(t, InsertComplete, result.Message)
	assert.JSONEq(t, `"36.6"`, string(result.InputCelsius))
	assert.JSONEq(t, `{"id":"r1","created":"2024-01-01 00:00:00.000Z"}`, string(result.GeneratedData))
}

func Test_AppendLogFixedFieldsWin(t *testing.T) {

	var arena fastjson.Arena
	source := &fakeLogSource{}
	fields := map[string]string{"drone_id": "1", "celsius": "fixed"}

	aggregator := NewLogAggregator(source, 1, fields, 0)
	fields["drone_id"] = "changed after construction"

	result, err := aggregator.AppendLog(context.Background(), arena.NewNumberFloat64(21.5))
	require.NoError(t, err)

	require.Len(t, source.created, 1)
	assert.Equal(t, `{"celsius":"fixed","drone_id":"1"}`, string(source.created[0]))
	assert.JSONEq(t, `21.5`, string(result.InputCelsius))
}

func Test_AppendLogWriteFailure(t *testing.T) {

	var arena fastjson.Arena
	source := &fakeLogSource{createErr: errors.New("500 Internal Server Error")}

	result, err := newAggregator(source).AppendLog(context.Background(), arena.NewString("20"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrUpstreamWriteFailed))
	assert.Len(t, source.created, 1)
}
