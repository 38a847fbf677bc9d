// Package literal models the typed values exchanged at task boundaries and
// encodes them in the protobuf wire layout used by inputs.pb and outputs.pb.
package literal

import "time"

// Literal is one of Integer, Float, String, Boolean, Datetime, Duration,
// Collection or Map.
type Literal interface {
	isLiteral()
}

type (
	Integer    int64
	Float      float64
	String     string
	Boolean    bool
	Duration   time.Duration
	Collection []Literal
	Map        map[string]Literal
)

// Datetime is a point in time; it is always encoded in UTC.
type Datetime time.Time

func (Integer) isLiteral()    {}
func (Float) isLiteral()      {}
func (String) isLiteral()     {}
func (Boolean) isLiteral()    {}
func (Datetime) isLiteral()   {}
func (Duration) isLiteral()   {}
func (Collection) isLiteral() {}
func (Map) isLiteral()        {}

func (d Datetime) Time() time.Time { return time.Time(d) }

func (d Datetime) Equal(o Datetime) bool { return time.Time(d).Equal(time.Time(o)) }

// AsInt returns the value of an Integer literal.
func AsInt(l Literal) (int64, bool) {
	v, ok := l.(Integer)
	return int64(v), ok
}

// Ints builds a collection of Integer literals.
func Ints(values ...int64) Collection {
	out := make(Collection, 0, len(values))
	for _, v := range values {
		out = append(out, Integer(v))
	}
	return out
}
