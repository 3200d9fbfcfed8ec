package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
)

// Key encoding tags. Every encoded value starts with one, so values of
// different kinds never share a prefix.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagComplex
	tagString
	tagBytes
	tagArray
	tagStruct
	tagMap
	tagIface
)

// encodeValue appends the canonical key encoding of v to dst. The encoding is
// injective: strings and byte slices are length-prefixed raw bytes, numbers
// are fixed-width big-endian, and composite values encode every element or
// field (exported or not) in order. Interface values carry their dynamic type
// so that int(1) and int64(1) stay apart.
//
// Pointers, channels, functions and unsafe pointers are rejected: their
// identity does not survive a restart, so they cannot address a file.
func encodeValue(dst []byte, v reflect.Value) ([]byte, error) {
	switch v.Kind() {
	case reflect.Bool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		return append(dst, tagBool, b), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst = append(dst, tagInt)
		return binary.BigEndian.AppendUint64(dst, uint64(v.Int())), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		dst = append(dst, tagUint)
		return binary.BigEndian.AppendUint64(dst, v.Uint()), nil

	case reflect.Float32, reflect.Float64:
		dst = append(dst, tagFloat)
		return binary.BigEndian.AppendUint64(dst, floatBits(v.Float())), nil

	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		dst = append(dst, tagComplex)
		dst = binary.BigEndian.AppendUint64(dst, floatBits(real(c)))
		return binary.BigEndian.AppendUint64(dst, floatBits(imag(c))), nil

	case reflect.String:
		return appendBytes(append(dst, tagString), []byte(v.String())), nil

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return appendBytes(append(dst, tagBytes), v.Bytes()), nil
		}
		return encodeSeq(dst, v)

	case reflect.Array:
		return encodeSeq(dst, v)

	case reflect.Struct:
		dst = append(dst, tagStruct)
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.NumField()))
		var err error
		for i := range v.NumField() {
			if dst, err = encodeValue(dst, v.Field(i)); err != nil {
				return nil, err
			}
		}
		return dst, nil

	case reflect.Map:
		return encodeMap(dst, v)

	case reflect.Interface:
		if v.IsNil() {
			return append(dst, tagNil), nil
		}
		elem := v.Elem()
		dst = appendBytes(append(dst, tagIface), []byte(typeName(elem.Type())))
		return encodeValue(dst, elem)

	default:
		return nil, fmt.Errorf("unsupported key kind %s", v.Kind())
	}
}

func encodeSeq(dst []byte, v reflect.Value) ([]byte, error) {
	dst = append(dst, tagArray)
	dst = binary.BigEndian.AppendUint32(dst, uint32(v.Len()))
	var err error
	for i := range v.Len() {
		if dst, err = encodeValue(dst, v.Index(i)); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// encodeMap writes entries sorted by their encoded key, so iteration order
// does not leak into the digest.
func encodeMap(dst []byte, v reflect.Value) ([]byte, error) {
	type pair struct{ k, v []byte }
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := encodeValue(nil, iter.Key())
		if err != nil {
			return nil, err
		}
		val, err := encodeValue(nil, iter.Value())
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{k, val})
	}
	slices.SortFunc(pairs, func(a, b pair) int { return bytes.Compare(a.k, b.k) })

	dst = append(dst, tagMap)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(pairs)))
	for _, p := range pairs {
		dst = append(append(dst, p.k...), p.v...)
	}
	return dst, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}

// floatBits folds -0 into +0, which compare equal as map keys.
func floatBits(f float64) uint64 {
	if f == 0 {
		return 0
	}
	return math.Float64bits(f)
}

func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
