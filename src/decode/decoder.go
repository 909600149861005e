// Package decode implements the Value Decoder (§4.A): turning one
// source-encoded value into a destination literal or tuple field.
package decode

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgtype"

	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

// DestKind is the coarse destination-type family the decoder dispatches on.
// Resolving a concrete type OID to a DestKind is the caller's job (it knows
// the catalog); the decoder only needs the family.
type DestKind int

const (
	DestText DestKind = iota
	DestInteger
	DestFloat
	DestNumeric
	DestMoney
	DestBit
	DestVarbit
	DestBytea
	DestDate
	DestTimestamp
	DestTime
	DestZonedTimestamp
	DestUnknown
)

// Well-known PostgreSQL pg_type OIDs, matching the constants pgtype
// exposes (pgtype.Int4OID, pgtype.NumericOID, ...); duplicated here so the
// decoder's OID->DestKind resolution doesn't need a catalog round-trip.
const (
	oidBool        = 16
	oidBytea       = 17
	oidInt8        = 20
	oidInt2        = 21
	oidInt4        = 23
	oidText        = 25
	oidFloat4      = 700
	oidFloat8      = 701
	oidMoney       = 790
	oidBPChar      = 1042
	oidVarchar     = 1043
	oidDate        = 1082
	oidTime        = 1083
	oidTimestamp   = 1114
	oidTimestamptz = 1184
	oidBit         = 1560
	oidVarbit      = 1562
	oidNumeric     = 1700
)

// ResolveDestKind maps a destination column's pg_type OID to the coarse
// DestKind family Decode dispatches on.
func ResolveDestKind(oid uint32) DestKind {
	switch oid {
	case oidInt2, oidInt4, oidInt8, oidBool:
		return DestInteger
	case oidFloat4, oidFloat8:
		return DestFloat
	case oidNumeric:
		return DestNumeric
	case oidMoney:
		return DestMoney
	case oidBit:
		return DestBit
	case oidVarbit:
		return DestVarbit
	case oidBytea:
		return DestBytea
	case oidDate:
		return DestDate
	case oidTimestamp:
		return DestTimestamp
	case oidTimestamptz:
		return DestZonedTimestamp
	case oidTime:
		return DestTime
	case oidText, oidVarchar, oidBPChar:
		return DestText
	default:
		return DestUnknown
	}
}

// Input is everything the decoder needs for one value, mirroring §3's
// DML value record plus the quoting flag §4.A's contract takes.
type Input struct {
	RawValue    string
	DestKind    DestKind
	Typemod     int
	Scale       int
	HasScale    bool
	TimeRep     domain.TimeRep
	QuoteForSQL bool
}

// Result is either a literal string (quoted path) or a tuple field (an
// opaque Go value ready for the destination's insert/update primitives).
type Result struct {
	IsNull  bool
	Literal string
	Field   interface{}
}

// Decode implements the full contract of §4.A, value-decoding step only
// (transform-expression application happens in the caller after this
// returns, per §4.A's "after base decoding" clause).
func Decode(in Input) (Result, error) {
	if isNullLexeme(in.RawValue) {
		return Result{IsNull: true}, nil
	}

	switch in.DestKind {
	case DestInteger, DestFloat:
		return passthroughNumeric(in), nil

	case DestNumeric, DestMoney:
		return decodeNumeric(in)

	case DestBit, DestVarbit:
		return decodeBits(in)

	case DestBytea:
		return decodeBytea(in)

	case DestDate:
		return decodeDate(in)

	case DestTimestamp:
		return decodeTimestamp(in)

	case DestZonedTimestamp:
		// Already a string; pass through verbatim.
		return textResult(in.RawValue, in.QuoteForSQL), nil

	case DestTime:
		return decodeTime(in)

	case DestText, DestUnknown:
		return textResult(in.RawValue, in.QuoteForSQL), nil

	default:
		return textResult(in.RawValue, in.QuoteForSQL), nil
	}
}

// FormatFloatLexeme renders a JSON-decoded float64 the way the source's
// numeric scalar fields arrive on the wire (no exponent, minimal digits).
func FormatFloatLexeme(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isNullLexeme(s string) bool {
	return strings.EqualFold(s, "NULL")
}

func passthroughNumeric(in Input) Result {
	if in.QuoteForSQL {
		return Result{Literal: in.RawValue}
	}
	return Result{Field: in.RawValue}
}

func textResult(s string, quote bool) Result {
	if !quote {
		return Result{Field: s}
	}
	return Result{Literal: quoteSQLString(s)}
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// decodeNumeric handles Numeric/Money: raw_value is base64 of a big-endian
// two's-complement integer of 1-16 bytes; scale places the decimal point.
// Money defaults to scale 4 when none was given.
func decodeNumeric(in Input) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(in.RawValue)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "corrupt base64 numeric value %q: %w", in.RawValue, err)
	}
	if len(raw) == 0 || len(raw) > 16 {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "numeric value has invalid byte length %d", len(raw))
	}

	scale := in.Scale
	if in.DestKind == DestMoney && !in.HasScale {
		scale = 4
	}

	if in.QuoteForSQL {
		return Result{Literal: decimalFromBigEndianTwosComplement(raw, scale)}, nil
	}

	// Tuple mode: hand pgx a typed pgtype.Numeric rather than a formatted
	// string, so the wire-level binary protocol carries the value without
	// a text-to-numeric cast round trip.
	n := bigEndianTwosComplementToNumeric(raw, scale)
	return Result{Field: n}, nil
}

func bigEndianTwosComplementToNumeric(raw []byte, scale int) pgtype.Numeric {
	v := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw)))
		v.Sub(v, mod)
	}
	return pgtype.Numeric{Int: v, Exp: int32(-scale), Status: pgtype.Present}
}

// decimalFromBigEndianTwosComplement decodes a big-endian two's-complement
// integer and places the decimal point scale digits from the right,
// inserting leading zeroes when the integer magnitude is shorter than
// scale demands.
func decimalFromBigEndianTwosComplement(raw []byte, scale int) string {
	v := new(big.Int).SetBytes(raw)

	// Two's complement: if the high bit of the first byte is set, this is
	// negative — subtract 2^(8*len(raw)).
	negative := raw[0]&0x80 != 0
	if negative {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw)))
		v.Sub(v, mod)
	}

	neg := v.Sign() < 0
	if neg {
		v.Neg(v)
	}

	digits := v.String()
	if scale <= 0 {
		if neg {
			return "-" + digits
		}
		return digits
	}

	for len(digits) <= scale {
		digits = "0" + digits
	}
	intPart := digits[:len(digits)-scale]
	fracPart := digits[len(digits)-scale:]

	out := intPart + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// decodeBits: base64 -> bytes -> reverse to little-endian bit order ->
// left-zero-padded binary string of at least typemod digits.
func decodeBits(in Input) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(in.RawValue)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "corrupt base64 bit value %q: %w", in.RawValue, err)
	}

	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}

	var sb strings.Builder
	for _, b := range reversed {
		sb.WriteString(fmt.Sprintf("%08b", b))
	}
	bits := sb.String()

	// Trim leading zeroes down to typemod width, then re-pad if shorter.
	bits = trimLeadingZeroesKeepMinWidth(bits, in.Typemod)

	if in.QuoteForSQL {
		return Result{Literal: "b'" + bits + "'"}, nil
	}
	return Result{Field: bits}, nil
}

func trimLeadingZeroesKeepMinWidth(bits string, minWidth int) string {
	trimmed := strings.TrimLeft(bits, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	for len(trimmed) < minWidth {
		trimmed = "0" + trimmed
	}
	return trimmed
}

func decodeBytea(in Input) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(in.RawValue)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "corrupt base64 bytea value %q: %w", in.RawValue, err)
	}

	if in.QuoteForSQL {
		hexStr := strings.ToUpper(fmt.Sprintf("%x", raw))
		return Result{Literal: "'\\x" + hexStr + "'"}, nil
	}
	return Result{Field: raw}, nil
}

// secondsAndNanosFromTimeRep decomposes raw into (seconds, fractional-nanoseconds) given a
// TimeRep, for the units that are seconds-since-some-epoch families.
func secondsAndNanosFromTimeRep(raw int64, rep domain.TimeRep) (sec int64, nsec int64, err error) {
	switch rep {
	case domain.TimeRepUndef:
		return 0, 0, synchdberr.Errorf(synchdberr.KindDecode, "undefined time representation for temporal value")
	case domain.TimeRepTimestamp:
		return raw / 1000, (raw % 1000) * int64(time.Millisecond),
			nil
	case domain.TimeRepMicroTimestamp, domain.TimeRepMicroTime:
		return raw / 1_000_000, (raw % 1_000_000) * int64(time.Microsecond), nil
	case domain.TimeRepNanoTimestamp, domain.TimeRepNanoTime:
		return raw / 1_000_000_000, raw % 1_000_000_000, nil
	case domain.TimeRepTime:
		return raw / 1000, (raw % 1000) * int64(time.Millisecond), nil
	default:
		return 0, 0, synchdberr.Errorf(synchdberr.KindDecode, "time representation %v not valid here", rep)
	}
}

func decodeDate(in Input) (Result, error) {
	raw, err := strconv.ParseInt(in.RawValue, 10, 64)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "invalid date raw value %q: %w", in.RawValue, err)
	}

	if in.TimeRep == domain.TimeRepUndef {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "undefined time representation for date value")
	}

	var t time.Time
	switch in.TimeRep {
	case domain.TimeRepDate:
		t = time.Unix(0, 0).UTC().AddDate(0, 0, int(raw))
	default:
		sec, nsec, err := secondsAndNanosFromTimeRep(raw, in.TimeRep)
		if err != nil {
			return Result{}, err
		}
		t = time.Unix(sec, nsec).UTC()
	}

	literal := t.Format("2006-01-02")
	return textResult(literal, in.QuoteForSQL), nil
}

func decodeTimestamp(in Input) (Result, error) {
	if in.TimeRep == domain.TimeRepZonedTimestamp {
		return textResult(in.RawValue, in.QuoteForSQL), nil
	}

	raw, err := strconv.ParseInt(in.RawValue, 10, 64)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "invalid timestamp raw value %q: %w", in.RawValue, err)
	}

	sec, nsec, err := secondsAndNanosFromTimeRep(raw, in.TimeRep)
	if err != nil {
		return Result{}, err
	}
	t := time.Unix(sec, nsec).UTC()

	layout := "2006-01-02T15:04:05"
	if in.Typemod > 0 {
		layout = "2006-01-02T15:04:05.000000"
	}
	literal := t.Format(layout)
	return textResult(literal, in.QuoteForSQL), nil
}

func decodeTime(in Input) (Result, error) {
	raw, err := strconv.ParseInt(in.RawValue, 10, 64)
	if err != nil {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "invalid time raw value %q: %w", in.RawValue, err)
	}

	if in.TimeRep == domain.TimeRepUndef {
		return Result{}, synchdberr.Errorf(synchdberr.KindDecode, "undefined time representation for time value")
	}

	sec, nsec, err := secondsAndNanosFromTimeRep(raw, in.TimeRep)
	if err != nil {
		return Result{}, err
	}

	hh := sec / 3600
	mm := (sec % 3600) / 60
	ss := sec % 60

	layout := "%02d:%02d:%02d"
	literal := fmt.Sprintf(layout, hh, mm, ss)
	if in.Typemod > 0 {
		literal = fmt.Sprintf("%s.%06d", literal, nsec/int64(time.Microsecond))
	}
	return textResult(literal, in.QuoteForSQL), nil
}
