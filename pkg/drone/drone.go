// Implements routines for manipulating drone records served by the upstream stores.
package drone

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

const (
	FieldDroneID   = "drone_id"
	FieldMaxSpeed  = "max_speed"
	FieldCondition = "condition"
	FieldCelsius   = "celsius"

	DefaultMaxSpeed  = 100
	MaxSpeedLimit    = 110
	UnknownCondition = "unknown"
)

var (
	ErrNotFound            = errors.New("drone record not found")
	ErrMissingField        = errors.New("required field is missing")
	ErrUpstreamUnavailable = errors.New("upstream source unavailable")
	ErrUpstreamWriteFailed = errors.New("upstream write failed")
)

var (
	//the number forms JavaScript's Number() accepts from a string
	decimalNumber    = regexp.MustCompile(`^[+-]?(Infinity|(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?)$`)
	nonDecimalNumber = regexp.MustCompile(`^0([xX][0-9a-fA-F]+|[oO][0-7]+|[bB][01]+)$`)
)

type (
	//one entry of an upstream collection, keyed by drone_id.
	//fields are kept as received so they pass through untouched and in order.
	Record struct {
		value *fastjson.Value
	}
)

// wraps a parsed json object as a record
func NewRecord(v *fastjson.Value) (*Record, error) {
	if v == nil {
		return nil, errors.New("record is missing")
	}

	if v.Type() != fastjson.TypeObject {
		return nil, errors.Errorf("record must be a json object, got %s", v.Type())
	}

	collapseDuplicates(v)

	return &Record{value: v}, nil
}

// keeps only the last value of a duplicated key, as JSON.parse and encoding/json do.
// Del drops the first occurrence, so the survivor stays where the last one was.
func collapseDuplicates(v *fastjson.Value) {
	o, err := v.Object()
	if err != nil {
		return
	}

	counts := make(map[string]int, o.Len())
	o.Visit(func(key []byte, _ *fastjson.Value) {
		counts[string(key)]++
	})

	for key, n := range counts {
		for ; n > 1; n-- {
			o.Del(key)
		}
	}
}

// parses a single json object into a record
func ParseRecord(data []byte) (*Record, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse record")
	}

	return NewRecord(v)
}

// returns drone_id coerced to a number, NaN when it is missing or not numeric
func (r *Record) ID() float64 {
	return toNumber(r.value.Get(FieldDroneID))
}

// returns the raw value of a field, nil when absent
func (r *Record) Get(field string) *fastjson.Value {
	return r.value.Get(field)
}

// returns the condition of the record, "unknown" when it is absent or falsy
func (r *Record) Condition() string {
	c := r.value.Get(FieldCondition)
	if !truthy(c) {
		return UnknownCondition
	}

	if c.Type() == fastjson.TypeString {
		return string(c.GetStringBytes())
	}

	return string(c.MarshalTo(nil))
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return r.value.MarshalTo(nil), nil
}

func (r *Record) String() string {
	return r.value.String()
}

// applies the config rules: falsy max_speed becomes 100, anything above 110 is clamped
// to 110, and condition is dropped whatever its value
func (r *Record) sanitize() {
	var a fastjson.Arena

	speed := r.value.Get(FieldMaxSpeed)
	if !truthy(speed) {
		r.value.Set(FieldMaxSpeed, a.NewNumberInt(DefaultMaxSpeed))
	} else if toNumber(speed) > MaxSpeedLimit {
		r.value.Set(FieldMaxSpeed, a.NewNumberInt(MaxSpeedLimit))
	}

	r.value.Del(FieldCondition)
}

// returns the first record whose drone_id equals id, nil if none does.
// the stores are assumed to hold at most one record per drone, on duplicates
// the first one in collection order is authoritative.
func FindByID(records []*Record, id float64) *Record {
	for _, r := range records {
		if r.ID() == id {
			return r
		}
	}

	return nil
}

// returns the records whose drone_id equals id, keeping their order
func FilterByID(records []*Record, id float64) []*Record {
	matches := make([]*Record, 0)
	for _, r := range records {
		if r.ID() == id {
			matches = append(matches, r)
		}
	}

	return matches
}

// coerces an identifier given as text to a number the way JavaScript's Number() does:
// blank text is 0, 0x/0o/0b prefixes are read in their base, anything else that is
// not a decimal literal is NaN
func ParseID(s string) float64 {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})
	if s == "" {
		return 0
	}

	if nonDecimalNumber.MatchString(s) {
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return math.NaN()
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f
	}

	if !decimalNumber.MatchString(s) {
		return math.NaN()
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		//out of range still yields ±Inf or 0, as in JavaScript
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}

	return f
}

// formats an identifier the way it was most likely written
func FormatID(id float64) string {
	return strconv.FormatFloat(id, 'f', -1, 64)
}

func toNumber(v *fastjson.Value) float64 {
	if v == nil {
		return math.NaN()
	}

	switch v.Type() {
	case fastjson.TypeNumber:
		f, err := v.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case fastjson.TypeString:
		return ParseID(string(v.GetStringBytes()))
	}

	return math.NaN()
}

// null, false, 0, NaN and "" are falsy, as are missing values
func truthy(v *fastjson.Value) bool {
	if v == nil {
		return false
	}

	switch v.Type() {
	case fastjson.TypeNull, fastjson.TypeFalse:
		return false
	case fastjson.TypeNumber:
		f, err := v.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	case fastjson.TypeString:
		return len(v.GetStringBytes()) > 0
	}

	return true
}
