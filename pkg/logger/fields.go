package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type kind uint8

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
	kindError
	kindAny
)

// Field is one structured key/value pair.
type Field struct {
	Key  string
	kind kind
	str  string
	num  int64
	flt  float64
	when time.Time
	val  interface{}
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Strings(key string, value []string) Field { return String(key, strings.Join(value, ", ")) }

func Int(key string, value int) Field { return Int64(key, int64(value)) }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, num: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

func Time(key string, value time.Time) Field { return Field{Key: key, kind: kindTime, when: value} }

// Duration is logged in milliseconds.
func Duration(key string, value time.Duration) Field { return Int64(key, value.Milliseconds()) }

func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindError, val: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, val: value} }

// Value is the field's plain Go value; errors become their message.
func (f Field) Value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num == 1
	case kindTime:
		return f.when
	case kindError:
		if err, ok := f.val.(error); ok && err != nil {
			return err.Error()
		}
		return nil
	default:
		return f.val
	}
}

func (f Field) apply(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.str)
	case kindInt:
		e.Int64(f.Key, f.num)
	case kindFloat:
		e.Float64(f.Key, f.flt)
	case kindBool:
		e.Bool(f.Key, f.num == 1)
	case kindTime:
		e.Time(f.Key, f.when)
	case kindError:
		err, _ := f.val.(error)
		e.Err(err)
	default:
		e.Interface(f.Key, f.val)
	}
}

func (f Field) attach(c zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return c.Str(f.Key, f.str)
	case kindInt:
		return c.Int64(f.Key, f.num)
	case kindFloat:
		return c.Float64(f.Key, f.flt)
	case kindBool:
		return c.Bool(f.Key, f.num == 1)
	case kindTime:
		return c.Time(f.Key, f.when)
	case kindError:
		err, _ := f.val.(error)
		return c.Err(err)
	default:
		return c.Interface(f.Key, f.val)
	}
}
