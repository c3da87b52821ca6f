// Talks to the drone config store and the drone log store over http.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"drones/pkg/drone"
)

const (
	configsField = "data"  // {data: [record, ...]}
	itemsField   = "items" // {items: [record, ...]}, one page of the log collection

	maxResponseBytes = 32 << 20
)

type (
	Client struct {
		configURL string
		logURL    string
		http      *http.Client
	}
)

// a timeout of zero or less leaves outbound calls without a deadline
func NewClient(configURL, logURL string, timeout time.Duration) *Client {

	if timeout < 0 {
		timeout = 0
	}

	return &Client{
		configURL: configURL,
		logURL:    logURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
	}
}

// fetches the whole config collection
func (c *Client) FetchConfigs(ctx context.Context) ([]*drone.Record, error) {

	v, err := c.getJSON(ctx, c.configURL)
	if err != nil {
		return nil, err
	}

	data := v.Get(configsField)
	if data == nil || data.Type() != fastjson.TypeArray {
		return nil, errors.Errorf("config response has no %q list", configsField)
	}

	return toRecords(data)
}

// fetches one page of the log collection. a missing, null or empty items list is an empty page.
func (c *Client) FetchLogPage(ctx context.Context, page int) ([]*drone.Record, error) {

	target, err := url.Parse(c.logURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log url")
	}

	query := target.Query()
	query.Set("page", strconv.Itoa(page))
	target.RawQuery = query.Encode()

	v, err := c.getJSON(ctx, target.String())
	if err != nil {
		return nil, err
	}

	items := v.Get(itemsField)
	if items == nil || items.Type() == fastjson.TypeNull {
		return nil, nil
	}

	if items.Type() != fastjson.TypeArray {
		return nil, errors.Errorf("log page %d: %q is a %s, not a list", page, itemsField, items.Type())
	}

	return toRecords(items)
}

// posts a new log entry and returns the created representation as json.
// a body that is not json comes back as a json string.
func (c *Client) CreateLog(ctx context.Context, entry []byte) ([]byte, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logURL, bytes.NewReader(entry))
	if err != nil {
		return nil, errors.Wrap(err, "could not build log request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("null"), nil
	}

	if fastjson.ValidateBytes(body) != nil {
		var arena fastjson.Arena
		return arena.NewStringBytes(body).MarshalTo(nil), nil
	}

	return body, nil
}

func (c *Client) getJSON(ctx context.Context, target string) (*fastjson.Value, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build request")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid json from %s", req.URL.Redacted())
	}

	return v, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", req.Method, req.URL.Redacted())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read response of %s %s", req.Method, req.URL.Redacted())
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.Errorf("%s %s answered %s", req.Method, req.URL.Redacted(), resp.Status)
	}

	return body, nil
}

func toRecords(list *fastjson.Value) ([]*drone.Record, error) {

	items, err := list.Array()
	if err != nil {
		return nil, errors.Wrap(err, "not a list")
	}

	records := make([]*drone.Record, 0, len(items))
	for i, item := range items {
		r, err := drone.NewRecord(item)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		records = append(records, r)
	}

	return records, nil
}
