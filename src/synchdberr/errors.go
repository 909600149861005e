// Package synchdberr classifies errors raised anywhere in the change-event
// pipeline into the kinds §7 of the design uses to decide propagation.
package synchdberr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the event loop reacts to.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindProducer
	KindParse
	KindMapping
	KindDecode
	KindCatalog
	KindApply
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindProducer:
		return "producer"
	case KindParse:
		return "parse"
	case KindMapping:
		return "mapping"
	case KindDecode:
		return "decode"
	case KindCatalog:
		return "catalog"
	case KindApply:
		return "apply"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

var (
	ErrConfig   = errors.New("config error")
	ErrProducer = errors.New("producer error")
	ErrParse    = errors.New("parse error")
	ErrMapping  = errors.New("mapping error")
	ErrDecode   = errors.New("decode error")
	ErrCatalog  = errors.New("catalog error")
	ErrApply    = errors.New("apply error")
	ErrInternal = errors.New("internal error")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindProducer:
		return ErrProducer
	case KindParse:
		return ErrParse
	case KindMapping:
		return ErrMapping
	case KindDecode:
		return ErrDecode
	case KindCatalog:
		return ErrCatalog
	case KindApply:
		return ErrApply
	case KindInternal:
		return ErrInternal
	default:
		return nil
	}
}

// Errorf builds an error tagged with kind, wrapping the kind's sentinel so
// errors.Is(err, ErrApply) keeps working after it is wrapped again upstream.
func Errorf(kind Kind, format string, args ...interface{}) error {
	sentinel := sentinelFor(kind)
	wrapped := fmt.Errorf(format, args...)
	if sentinel == nil {
		return wrapped
	}
	return fmt.Errorf("%w: %w", sentinel, wrapped)
}

// Classify walks the error chain and returns the first matching Kind, or
// KindUnknown if the error was never tagged via Errorf.
func Classify(err error) Kind {
	for _, k := range []Kind{KindConfig, KindProducer, KindParse, KindMapping, KindDecode, KindCatalog, KindApply, KindInternal} {
		if errors.Is(err, sentinelFor(k)) {
			return k
		}
	}
	return KindUnknown
}
