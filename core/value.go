package core

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Normalize converts supported integer and float widths to the canonical
// value types used throughout the engine (int64, float64, string, bool).
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float32:
		return float64(x)
	default:
		return v
	}
}

// CompareValues orders two scalar values. Mixed int64/float64 comparisons
// promote to float64; any other type mismatch is an error. Nil sorts before
// every non-nil value.
func CompareValues(a, b interface{}) (int, error) {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}

	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareOrdered(av, bv), nil
		case float64:
			return compareOrdered(float64(av), bv), nil
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return compareOrdered(av, bv), nil
		case int64:
			return compareOrdered(av, float64(bv)), nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return compareOrdered(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !av:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, errors.Errorf("cannot compare %T with %T", a, b)
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareKeys orders two rows by the given key column positions.
func CompareKeys(a, b Row, aIdx, bIdx []int) (int, error) {
	for i := range aIdx {
		c, err := CompareValues(a[aIdx[i]], b[bIdx[i]])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

const (
	tagNil    = 0x00
	tagInt64  = 0x01
	tagFloat  = 0x02
	tagString = 0x03
	tagBool   = 0x04
)

// AppendCanonical appends a canonical, type-tagged binary encoding of v.
// The encoding is stable across runs, so it is safe to hash for
// partitioning and to use as an equality key in join hash tables.
func AppendCanonical(dst []byte, v interface{}) ([]byte, error) {
	switch x := Normalize(v).(type) {
	case nil:
		return append(dst, tagNil), nil
	case int64:
		dst = append(dst, tagInt64)
		return binary.LittleEndian.AppendUint64(dst, uint64(x)), nil
	case float64:
		dst = append(dst, tagFloat)
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(x)), nil
	case string:
		dst = append(dst, tagString)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(x)))
		return append(dst, x...), nil
	case bool:
		dst = append(dst, tagBool)
		if x {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	default:
		return nil, errors.Errorf("unsupported value type %T", v)
	}
}

// KeyOf builds the canonical grouping key for the given key columns of a row.
func KeyOf(row Row, keyIdx []int) (string, error) {
	buf := make([]byte, 0, 16*len(keyIdx))
	var err error
	for _, idx := range keyIdx {
		buf, err = AppendCanonical(buf, row[idx])
		if err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// HashKey computes the partitioning hash for the given key columns of a row.
func HashKey(row Row, keyIdx []int) (uint64, error) {
	key, err := KeyOf(row, keyIdx)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(key), nil
}
