package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Field is a single key/value pair of structured context.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Stringer(key string, value fmt.Stringer) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err attaches an error under the "error" key.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Component tags the entry with the emitting component.
func Component(name string) Field {
	return Field{Key: ComponentKey, Value: name}
}

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
