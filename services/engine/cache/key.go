package cache

import (
	"hash/fnv"
	"sort"

	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/model"
)

// Key is a fixed-width composite cache key: two independent 64-bit hashes
// of the same input, chosen to avoid string allocation in the hot path
// (spec §4.9 "Keys are fixed-width composites (two 64-bit hashes)"). Two
// distinct inputs colliding on both Hi and Lo simultaneously is
// astronomically unlikely, the same trade-off the teacher's corpus-hash
// scheme accepts by using a single 256-bit SHA digest instead.
type Key struct {
	Hi uint64
	Lo uint64
}

// relevantFields returns the sorted, deduplicated set of fields referenced
// by any BaseConditionSet's static predicates — the only fields a base-
// filter cache key needs to depend on (spec §4.9: "the encoded event's
// values on the fields those predicates reference").
func relevantFields(m *model.EngineModel) []int32 {
	seen := make(map[int32]struct{})
	for _, set := range m.BaseConditionSets {
		for _, pid := range set.StaticPredicateIDs {
			seen[m.Predicates[pid].FieldID] = struct{}{}
		}
	}
	fields := make([]int32, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// DeriveKey computes enc's base-filter cache key: a deterministic digest of
// the encoded values the model's BaseConditionSets actually reference. Two
// events agreeing on every relevant field always derive the same key,
// regardless of what else their attribute maps contain, which is exactly
// the cache-transparency property (testable property 7) needs: the key
// alone determines which BaseConditionSets are applicable.
func DeriveKey(m *model.EngineModel, enc *event.Encoded) Key {
	fields := relevantFields(m)

	h1 := fnv.New64a()
	h2 := fnv.New64()
	write := func(b []byte) {
		h1.Write(b)
		h2.Write(b)
	}

	var buf [8]byte
	for _, fieldID := range fields {
		putU32(buf[0:4], uint32(fieldID))
		write(buf[0:4])

		attr, ok := enc.Attrs[fieldID]
		if !ok {
			write([]byte{0}) // absent marker
			continue
		}
		write([]byte{1})
		switch {
		case attr.IsString && attr.HasStringID:
			write([]byte{'s'})
			putU32(buf[0:4], uint32(attr.StringID))
			write(buf[0:4])
		case attr.IsString:
			write([]byte{'r'})
			write([]byte(attr.Raw))
		case attr.IsNumeric:
			write([]byte{'n'})
			putU64(buf[:], uint64(int64(attr.Num*1e6)))
			write(buf[:])
		case attr.IsBool:
			write([]byte{'b'})
			if attr.Bool {
				write([]byte{1})
			} else {
				write([]byte{0})
			}
		default:
			write([]byte{'e'})
		}
	}

	return Key{Hi: h1.Sum64(), Lo: h2.Sum64()}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
