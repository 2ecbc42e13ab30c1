package domain

import (
	"fmt"
	"strconv"
	"time"
)

// ChannelID identifies an archived channel in the persistence backend.
type ChannelID int64

// Severity is the alarm severity attached to every sample.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityMajor
	SeverityInvalid
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "NO_ALARM"
	case SeverityMinor:
		return "MINOR"
	case SeverityMajor:
		return "MAJOR"
	case SeverityInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// ValueKind tags which field of Value carries the payload.
type ValueKind uint8

const (
	KindDouble ValueKind = iota + 1
	KindLong
	KindEnum
	KindString
	KindArray
)

// Value is the decoded payload of one update. Exactly one of Num, Str or
// Array is meaningful, selected by Kind. Enums keep their index in Num and
// their label in Str.
type Value struct {
	Kind  ValueKind `json:"kind"`
	Num   float64   `json:"num,omitempty"`
	Str   string    `json:"str,omitempty"`
	Array []float64 `json:"array,omitempty"`
}

func (v Value) String() string {
	switch v.Kind {
	case KindDouble:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindLong:
		return strconv.FormatInt(int64(v.Num), 10)
	case KindEnum:
		if v.Str != "" {
			return v.Str
		}
		return strconv.FormatInt(int64(v.Num), 10)
	case KindString:
		return v.Str
	case KindArray:
		return fmt.Sprint(v.Array)
	default:
		return "null"
	}
}

// Sample is one immutable, timestamped value of a channel. Samples are
// created by the channel that owns them and never modified afterwards;
// consumers share the pointer.
type Sample struct {
	ChannelID ChannelID `json:"channel_id"`
	Value     Value     `json:"value"`
	Severity  Severity  `json:"severity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
	// ClockRegression marks a source timestamp older than the previous
	// sample of the same channel. The timestamp itself is kept as received.
	ClockRegression bool `json:"clock_regression,omitempty"`
}
