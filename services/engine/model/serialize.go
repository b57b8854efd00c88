package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// magic identifies a Helios compiled-model binary file; formatVersion is
// bumped whenever the on-disk layout changes in an incompatible way (spec
// §6 "self-describing binary format: header {magic, version,
// selectionStrategy}").
const (
	magic         = uint32(0x48454C31) // "HEL1"
	formatVersion = uint32(1)
)

// encoder accumulates the first write error so call sites don't need to
// check err after every field (mirrors the teacher's gob-based
// encode-then-check-once style in router_cache.go, adapted here to a custom
// binary layout since roaring bitmaps need their own wire format, not gob's).
type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) u32(v uint32) {
	if e.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, e.err = e.w.Write(buf[:])
}

func (e *encoder) i32(v int32)   { e.u32(uint32(v)) }
func (e *encoder) i64(v int64)   { e.u64(uint64(v)) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }
func (e *encoder) boolean(v bool) {
	if v {
		e.u32(1)
	} else {
		e.u32(0)
	}
}

func (e *encoder) u64(v uint64) {
	if e.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, e.err = e.w.Write(buf[:])
}

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	e.u32(uint32(len(s)))
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write([]byte(s))
}

func (e *encoder) strSlice(ss []string) {
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

func (e *encoder) i32Slice(vs []int32) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.i32(v)
	}
}

func (e *encoder) intSlice(vs []int) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.i64(int64(v))
	}
}

func (e *encoder) bitmap(bm *roaring.Bitmap) {
	if e.err != nil {
		return
	}
	if bm == nil {
		bm = roaring.New()
	}
	n, err := bm.WriteTo(e.w)
	if err != nil {
		e.err = err
		return
	}
	_ = n
}

// Serialize writes m to w in the Helios compiled-model binary format (spec
// §6). Round-trip via Deserialize must preserve evaluation semantics
// bit-for-bit (testable property 10).
func Serialize(w io.Writer, m *EngineModel) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}

	e.u32(magic)
	e.u32(formatVersion)
	e.u32(uint32(m.SelectionStrategy))

	e.strSlice(m.FieldDict.Snapshot())
	e.strSlice(m.ValueDict.Snapshot())

	e.u32(uint32(len(m.Predicates)))
	for _, p := range m.Predicates {
		writePredicate(e, p)
	}

	e.u32(uint32(len(m.InvertedIndex)))
	for _, bm := range m.InvertedIndex {
		e.bitmap(bm)
	}

	numCombos := len(m.PredicateCount)
	e.u32(uint32(numCombos))
	for i := 0; i < numCombos; i++ {
		e.i32(m.PredicateCount[i])
		e.intSlice([]int{m.Priority[i]})
		e.str(m.RuleCode[i])
		e.str(m.Description[i])
		e.i32Slice(m.PredicateIDs[i])
		e.strSlice(m.AllRuleCodes[i])
		e.intSlice(m.AllPriorities[i])
		e.i32(m.CombinationBaseID[i])
	}

	e.u32(uint32(len(m.BaseConditionSets)))
	for _, bcs := range m.BaseConditionSets {
		e.i32(bcs.SetID)
		e.i32Slice(bcs.StaticPredicateIDs)
		e.i64(bcs.CanonicalHash)
		e.bitmap(bcs.AffectedCombinations)
		e.f64(bcs.AvgSelectivity)
	}

	if e.err != nil {
		return fmt.Errorf("model: serialize: %w", e.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("model: serialize: %w", err)
	}
	return nil
}

func writePredicate(e *encoder, p *predicate.Predicate) {
	e.i32(p.FieldID)
	e.u32(uint32(p.Operator))
	e.f64(p.NumValue)
	e.i32(p.StringID)
	e.boolean(p.HasStringID)
	e.f64(p.Lo)
	e.f64(p.Hi)
	e.u32(uint32(len(p.Set)))
	for _, v := range p.Set {
		e.i64(v)
	}
	e.str(p.Substr)
	e.str(p.PatternSrc)
	e.f64(p.Weight)
	e.f64(p.Selectivity)
}

// decoder is the read-side counterpart of encoder.
type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	var buf [4]byte
	if _, d.err = io.ReadFull(d.r, buf[:]); d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	var buf [8]byte
	if _, d.err = io.ReadFull(d.r, buf[:]); d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (d *decoder) i32() int32   { return int32(d.u32()) }
func (d *decoder) i64() int64   { return int64(d.u64()) }
func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }
func (d *decoder) boolean() bool {
	return d.u32() != 0
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, d.err = io.ReadFull(d.r, buf); d.err != nil {
		return ""
	}
	return string(buf)
}

func (d *decoder) strSlice() []string {
	n := d.u32()
	out := make([]string, n)
	for i := range out {
		out[i] = d.str()
	}
	return out
}

func (d *decoder) i32Slice() []int32 {
	n := d.u32()
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = d.i32()
	}
	return out
}

func (d *decoder) intSlice() []int {
	n := d.u32()
	out := make([]int, n)
	for i := range out {
		out[i] = int(d.i64())
	}
	return out
}

func (d *decoder) bitmap() *roaring.Bitmap {
	bm := roaring.New()
	if d.err != nil {
		return bm
	}
	if _, err := bm.ReadFrom(d.r); err != nil {
		d.err = err
	}
	return bm
}

// Deserialize reads a model previously written by Serialize. It rejects
// files with a mismatched magic or an unsupported format version.
func Deserialize(r io.Reader) (*EngineModel, error) {
	d := &decoder{r: bufio.NewReader(r)}

	if got := d.u32(); got != magic {
		return nil, fmt.Errorf("model: deserialize: bad magic %#x", got)
	}
	if got := d.u32(); got != formatVersion {
		return nil, fmt.Errorf("model: deserialize: unsupported format version %d", got)
	}
	strategy := SelectionStrategy(d.u32())

	fieldNames := d.strSlice()
	valueNames := d.strSlice()
	if d.err != nil {
		return nil, fmt.Errorf("model: deserialize: %w", d.err)
	}
	fieldDict := dictionary.FromSnapshot(fieldNames)
	valueDict := dictionary.FromSnapshot(valueNames)

	numPreds := int(d.u32())
	preds := make([]*predicate.Predicate, numPreds)
	for i := range preds {
		preds[i] = readPredicate(d, int32(i))
	}

	numPostings := int(d.u32())
	postings := make([]*roaring.Bitmap, numPostings)
	for i := range postings {
		postings[i] = d.bitmap()
	}

	numCombos := int(d.u32())
	m := &EngineModel{
		FieldDict:              fieldDict,
		ValueDict:              valueDict,
		Predicates:             preds,
		InvertedIndex:          postings,
		PredicateCount:         make([]int32, numCombos),
		Priority:               make([]int, numCombos),
		RuleCode:               make([]string, numCombos),
		Description:            make([]string, numCombos),
		PredicateIDs:           make([][]int32, numCombos),
		AllRuleCodes:           make([][]string, numCombos),
		AllPriorities:          make([][]int, numCombos),
		CombinationBaseID:      make([]int32, numCombos),
		FieldToPredicates:      make(map[int32][]int32),
		FieldMinWeight:         make(map[int32]float64),
		RuleCodeToCombinations: make(map[string][]int32),
		PredicateIDToRuleCodes: make(map[int32][]string),
		SelectionStrategy:      strategy,
		eligibleSetCache:       newEligibleSetCache(10_000),
	}

	ruleCodesSeen := make(map[int32]map[string]struct{})
	for i := 0; i < numCombos; i++ {
		m.PredicateCount[i] = d.i32()
		prio := d.intSlice()
		if len(prio) == 1 {
			m.Priority[i] = prio[0]
		}
		m.RuleCode[i] = d.str()
		m.Description[i] = d.str()
		m.PredicateIDs[i] = d.i32Slice()
		m.AllRuleCodes[i] = d.strSlice()
		m.AllPriorities[i] = d.intSlice()
		m.CombinationBaseID[i] = d.i32()

		for j, code := range m.AllRuleCodes[i] {
			m.RuleCodeToCombinations[code] = append(m.RuleCodeToCombinations[code], int32(i))
			_ = j
		}
		for _, pid := range m.PredicateIDs[i] {
			if ruleCodesSeen[pid] == nil {
				ruleCodesSeen[pid] = make(map[string]struct{})
			}
			for _, code := range m.AllRuleCodes[i] {
				ruleCodesSeen[pid][code] = struct{}{}
			}
		}
	}
	for pid, set := range ruleCodesSeen {
		codes := make([]string, 0, len(set))
		for code := range set {
			codes = append(codes, code)
		}
		m.PredicateIDToRuleCodes[pid] = codes
	}

	for id, p := range preds {
		pid := int32(id)
		m.FieldToPredicates[p.FieldID] = append(m.FieldToPredicates[p.FieldID], pid)
		if cur, ok := m.FieldMinWeight[p.FieldID]; !ok || p.Weight < cur {
			m.FieldMinWeight[p.FieldID] = p.Weight
		}
	}
	allIDs := make([]int32, len(preds))
	for i := range allIDs {
		allIDs[i] = int32(i)
	}
	sortByWeight(allIDs, preds)
	m.SortedPredicatesByWeight = allIDs
	m.NullCheckFields = nullCheckFieldsFromSlice(preds)

	numBase := int(d.u32())
	m.BaseConditionSets = make([]BaseConditionSet, numBase)
	for i := range m.BaseConditionSets {
		setID := d.i32()
		staticIDs := d.i32Slice()
		hash := d.i64()
		affected := d.bitmap()
		avgSel := d.f64()
		m.BaseConditionSets[i] = BaseConditionSet{
			SetID:                setID,
			StaticPredicateIDs:   staticIDs,
			CanonicalHash:        hash,
			AffectedCombinations: affected,
			AvgSelectivity:       avgSel,
		}
	}

	m.AlwaysEligible = alwaysEligible(m.CombinationBaseID)

	if d.err != nil {
		return nil, fmt.Errorf("model: deserialize: %w", d.err)
	}
	return m, nil
}

func readPredicate(d *decoder, id int32) *predicate.Predicate {
	p := &predicate.Predicate{ID: id}
	p.FieldID = d.i32()
	p.Operator = predicate.Operator(d.u32())
	p.NumValue = d.f64()
	p.StringID = d.i32()
	p.HasStringID = d.boolean()
	p.Lo = d.f64()
	p.Hi = d.f64()
	n := d.u32()
	if n > 0 {
		p.Set = make([]int64, n)
		for i := range p.Set {
			p.Set[i] = d.i64()
		}
	}
	p.Substr = d.str()
	p.PatternSrc = d.str()
	p.Weight = d.f64()
	p.Selectivity = d.f64()
	if p.Operator == predicate.Regex && p.PatternSrc != "" {
		if compiled, err := predicate.CompileRegex(p.PatternSrc); err == nil {
			p.Pattern = compiled
		} else {
			d.err = err
		}
	}
	return p
}

func sortByWeight(ids []int32, preds []*predicate.Predicate) {
	sort.Slice(ids, func(i, j int) bool { return preds[ids[i]].Weight < preds[ids[j]].Weight })
}
