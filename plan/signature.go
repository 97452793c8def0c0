package plan

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Signature is the canonical identity of an Exchange subtree: a structural
// hash over its child plan and partitioning spec. Equal signatures are a
// necessary but not sufficient condition for reuse; callers must confirm
// with Equal before treating two Exchanges as interchangeable, since hash
// collisions are possible.
type Signature struct {
	Hash uint64
}

// ExchangeSignature computes the signature of an Exchange.
func ExchangeSignature(ex *Exchange) Signature {
	d := xxhash.New()
	writePartitioning(d, ex.Partitioning)
	writeNode(d, ex.Input)
	return Signature{Hash: d.Sum64()}
}

func writeByte(d *xxhash.Digest, b byte) { _, _ = d.Write([]byte{b}) }

func writeInt(d *xxhash.Digest, v int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, _ = d.Write(buf[:])
}

func writeString(d *xxhash.Digest, s string) {
	writeInt(d, len(s))
	_, _ = d.WriteString(s)
}

func writeStrings(d *xxhash.Digest, ss []string) {
	writeInt(d, len(ss))
	for _, s := range ss {
		writeString(d, s)
	}
}

func writePartitioning(d *xxhash.Digest, p Partitioning) {
	switch pt := p.(type) {
	case UnknownPartitioning:
		writeByte(d, 0)
		writeInt(d, pt.Partitions)
	case SinglePartition:
		writeByte(d, 1)
	case HashPartitioning:
		writeByte(d, 2)
		writeStrings(d, pt.Keys)
		writeInt(d, pt.Partitions)
	case PartitioningCollection:
		writeByte(d, 3)
		writeInt(d, len(pt))
		for _, sub := range pt {
			writePartitioning(d, sub)
		}
	default:
		writeByte(d, 0xff)
	}
}

func writeNode(d *xxhash.Digest, n Node) {
	writeByte(d, byte(n.Kind()))
	switch v := n.(type) {
	case *Scan:
		writeString(d, v.Table)
		writeInt(d, len(v.TableSchema))
		for _, col := range v.TableSchema {
			writeString(d, col.Name)
			writeString(d, string(col.Type))
		}
	case *Filter:
		writeString(d, v.Pred.Column)
		writeString(d, string(v.Pred.Op))
		writeString(d, fmt.Sprintf("%T:%v", v.Pred.Value, v.Pred.Value))
	case *Project:
		writeStrings(d, v.Columns)
	case *Exchange:
		writePartitioning(d, v.Partitioning)
	case *SortMergeJoin:
		writeStrings(d, v.LeftKeys)
		writeStrings(d, v.RightKeys)
		writeInt(d, int(v.Type))
	case *BroadcastHashJoin:
		writeStrings(d, v.LeftKeys)
		writeStrings(d, v.RightKeys)
		writeInt(d, int(v.Type))
		writeInt(d, int(v.BuildSide))
	case *QueryStageInput:
		writeInt(d, v.Ref.ID())
	case *ReusedQueryStage:
		writeInt(d, v.Ref.ID())
	}
	children := n.Children()
	writeInt(d, len(children))
	for _, c := range children {
		writeNode(d, c)
	}
}

// Equal reports full structural equality of two plan trees. Stage inputs
// are equal only when they reference the same stage. This is the check that
// resolves signature hash collisions: equal hashes with unequal trees must
// be treated as distinct Exchanges.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case *Scan:
		bv := b.(*Scan)
		if av.Table != bv.Table || !av.TableSchema.Equal(bv.TableSchema) {
			return false
		}
	case *Filter:
		bv := b.(*Filter)
		if av.Pred.Column != bv.Pred.Column || av.Pred.Op != bv.Pred.Op ||
			!reflect.DeepEqual(av.Pred.Value, bv.Pred.Value) {
			return false
		}
	case *Project:
		bv := b.(*Project)
		if !keysEqual(av.Columns, bv.Columns) {
			return false
		}
	case *Exchange:
		bv := b.(*Exchange)
		if !PartitioningEqual(av.Partitioning, bv.Partitioning) {
			return false
		}
	case *SortMergeJoin:
		bv := b.(*SortMergeJoin)
		if av.Type != bv.Type || !keysEqual(av.LeftKeys, bv.LeftKeys) ||
			!keysEqual(av.RightKeys, bv.RightKeys) {
			return false
		}
	case *BroadcastHashJoin:
		bv := b.(*BroadcastHashJoin)
		if av.Type != bv.Type || av.BuildSide != bv.BuildSide ||
			!keysEqual(av.LeftKeys, bv.LeftKeys) || !keysEqual(av.RightKeys, bv.RightKeys) {
			return false
		}
	case *QueryStageInput:
		if av.Ref != b.(*QueryStageInput).Ref {
			return false
		}
	case *ReusedQueryStage:
		if av.Ref != b.(*ReusedQueryStage).Ref {
			return false
		}
	}
	ac, bc := a.Children(), b.Children()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

// ExchangeEqual reports whether two Exchanges are interchangeable: same
// partitioning spec and structurally identical child plans.
func ExchangeEqual(a, b *Exchange) bool {
	return PartitioningEqual(a.Partitioning, b.Partitioning) && Equal(a.Input, b.Input)
}
