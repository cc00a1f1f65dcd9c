package object

import (
	"testing"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	return NewModel(h, reg)
}

func mustOK(t *testing.T, cond value.Value) {
	t.Helper()
	if cond.IsCondition() {
		t.Fatalf("unexpected condition: %v", cond)
	}
}

func TestUtf8RoundtripAndIdentity(t *testing.T) {
	m := newTestModel(t)
	a, cond := m.NewUtf8("hello")
	mustOK(t, cond)
	b, cond := m.NewUtf8("hello")
	mustOK(t, cond)
	if m.Utf8Value(a) != "hello" {
		t.Fatalf("got %q", m.Utf8Value(a))
	}
	if !m.IdentityEqual(a, b) {
		t.Fatalf("two Utf8 objects with equal content must compare identity-equal")
	}
	if m.GetMode(a) != mode.DeepFrozen {
		t.Fatalf("Utf8 must be family-fixed deep-frozen, got %v", m.GetMode(a))
	}
}

func TestBlobBytes(t *testing.T) {
	m := newTestModel(t)
	v, cond := m.NewBlob([]byte{1, 2, 3, 4})
	mustOK(t, cond)
	got := m.BlobBytes(v)
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("got %v", got)
	}
}

func TestArrayGetSetAndBounds(t *testing.T) {
	m := newTestModel(t)
	arr, cond := m.NewArray(3)
	mustOK(t, cond)
	for i := 0; i < 3; i++ {
		m.ArraySetAt(arr, i, value.NewInteger(int64(i*10)))
	}
	for i := 0; i < 3; i++ {
		if got := m.ArrayAt(arr, i).IntegerValue(); got != int64(i*10) {
			t.Fatalf("index %d: got %d", i, got)
		}
	}
}

func TestArrayBufferPushGrows(t *testing.T) {
	m := newTestModel(t)
	ab, cond := m.NewArrayBuffer(1)
	mustOK(t, cond)
	for i := 0; i < 20; i++ {
		mustOK(t, m.ArrayBufferPush(ab, value.NewInteger(int64(i))))
	}
	if m.ArrayBufferLen(ab) != 20 {
		t.Fatalf("got len %d, want 20", m.ArrayBufferLen(ab))
	}
	for i := 0; i < 20; i++ {
		if got := m.ArrayBufferAt(ab, i).IntegerValue(); got != int64(i) {
			t.Fatalf("index %d: got %d", i, got)
		}
	}
}

func TestIdHashMapSetGetDeleteAndRehash(t *testing.T) {
	m := newTestModel(t)
	mp, cond := m.NewIdHashMap(4)
	mustOK(t, cond)

	keys := make([]value.Value, 0, 12)
	for i := 0; i < 12; i++ {
		k, cond := m.NewUtf8(string(rune('a' + i)))
		mustOK(t, cond)
		keys = append(keys, k)
		mustOK(t, m.SetIdHashMapAt(mp, k, value.NewInteger(int64(i))))
	}
	if m.IdHashMapSize(mp) != 12 {
		t.Fatalf("got size %d, want 12 (map should have grown)", m.IdHashMapSize(mp))
	}
	for i, k := range keys {
		if got := m.GetIdHashMapAt(mp, k); got.IntegerValue() != int64(i) {
			t.Fatalf("key %d: got %v", i, got)
		}
	}
	mustOK(t, m.DeleteIdHashMapAt(mp, keys[0]))
	if got := m.GetIdHashMapAt(mp, keys[0]); !got.IsCondition() {
		t.Fatalf("deleted key should not be found, got %v", got)
	}

	// Rehash (GC fixup path) must preserve every surviving pair.
	addr := addrOf(mp)
	m.rehashMap(addr)
	if m.IdHashMapSize(mp) != 11 {
		t.Fatalf("after rehash got size %d, want 11", m.IdHashMapSize(mp))
	}
	for i := 1; i < 12; i++ {
		if got := m.GetIdHashMapAt(mp, keys[i]); got.IntegerValue() != int64(i) {
			t.Fatalf("after rehash key %d: got %v", i, got)
		}
	}
}

func TestFifoBufferOfferTakeOrder(t *testing.T) {
	m := newTestModel(t)
	fb, cond := m.NewFifoBuffer(1, 4)
	mustOK(t, cond)
	for i := 0; i < 3; i++ {
		mustOK(t, m.FifoOffer(fb, []value.Value{value.NewInteger(int64(i))}))
	}
	for i := 0; i < 3; i++ {
		got, cond := m.FifoTake(fb)
		mustOK(t, cond)
		if got[0].IntegerValue() != int64(i) {
			t.Fatalf("FIFO order violated: got %d, want %d", got[0].IntegerValue(), i)
		}
	}
	if _, cond := m.FifoTake(fb); !cond.IsCondition() {
		t.Fatalf("expected NotFound taking from an empty FifoBuffer")
	}
}

func TestArgumentMapTrieCanonicalizes(t *testing.T) {
	m := newTestModel(t)
	root, cond := m.NewArgumentMapTrieRoot()
	mustOK(t, cond)

	a1, cond := m.TrieChild(root, 2)
	mustOK(t, cond)
	a2, cond := m.TrieChild(a1, 5)
	mustOK(t, cond)

	b1, cond := m.TrieChild(root, 2)
	mustOK(t, cond)
	b2, cond := m.TrieChild(b1, 5)
	mustOK(t, cond)

	if addrOf(a1) != addrOf(b1) || addrOf(a2) != addrOf(b2) {
		t.Fatalf("identical key sequences must land on the same trie node")
	}
	if addrOf(m.TrieValue(a2)) != addrOf(m.TrieValue(b2)) {
		t.Fatalf("identical key sequences must share the same accumulated array")
	}
	if m.ArrayLen(m.TrieValue(a2)) != 2 {
		t.Fatalf("got accumulated length %d, want 2", m.ArrayLen(m.TrieValue(a2)))
	}
}

func TestKeyIdentityAndWellKnownKeys(t *testing.T) {
	m := newTestModel(t)
	k1, cond := m.NewKey("foo")
	mustOK(t, cond)
	k2, cond := m.NewKey("foo")
	mustOK(t, cond)
	if m.IdentityEqual(k1, k2) {
		t.Fatalf("two distinct keys with the same display name must not be identity-equal")
	}
	if m.KeyDisplayName(k1) != "foo" {
		t.Fatalf("got %q", m.KeyDisplayName(k1))
	}

	wk, cond := m.NewWellKnownKeys()
	mustOK(t, cond)
	if m.KeyDisplayName(wk.Subject) != "subject" || m.KeyDisplayName(wk.Selector) != "selector" || m.KeyDisplayName(wk.IsAsync) != "is_async" {
		t.Fatalf("well-known keys have unexpected display names")
	}
}

func TestPathStringAndIdentifier(t *testing.T) {
	m := newTestModel(t)
	empty, cond := m.NewEmptyPath()
	mustOK(t, cond)
	seg, cond := m.NewUtf8("b")
	mustOK(t, cond)
	p1, cond := m.NewPath(seg, empty)
	mustOK(t, cond)
	seg2, cond := m.NewUtf8("a")
	mustOK(t, cond)
	p2, cond := m.NewPath(seg2, p1)
	mustOK(t, cond)
	if m.PathString(p2) != "a.b" {
		t.Fatalf("got %q", m.PathString(p2))
	}

	id, cond := m.NewIdentifier(-1, p2)
	mustOK(t, cond)
	if m.IdentifierStage(id) != -1 {
		t.Fatalf("got stage %d", m.IdentifierStage(id))
	}
}

func TestCodeBlockFields(t *testing.T) {
	m := newTestModel(t)
	bc, cond := m.NewBlob([]byte{0x01, 0x02})
	mustOK(t, cond)
	pool, cond := m.NewArray(0)
	mustOK(t, cond)
	cb, cond := m.NewCodeBlock(bc, pool, 4)
	mustOK(t, cond)
	if m.CodeBlockHighWaterMark(cb) != 4 {
		t.Fatalf("got %d", m.CodeBlockHighWaterMark(cb))
	}
}

func TestHashOracleStableAndFreezeFixesLimit(t *testing.T) {
	m := newTestModel(t)
	src, cond := m.NewHashSource(42)
	mustOK(t, cond)
	oracle, cond := m.NewHashOracle(src)
	mustOK(t, cond)

	target, cond := m.NewUtf8("x")
	mustOK(t, cond)
	c1 := m.HashCodeFor(oracle, target)
	if c1.IsCondition() {
		t.Fatalf("unexpected condition minting hash code: %v", c1)
	}
	c2 := m.HashCodeFor(oracle, target)
	if c1.HashCodeValue() != c2.HashCodeValue() {
		t.Fatalf("same target must get the same hash code: %v vs %v", c1, c2)
	}

	if err := m.SetMode(oracle, mode.Frozen); err != nil {
		t.Fatalf("freezing the oracle: %v", err)
	}

	fresh, cond := m.NewUtf8("y")
	mustOK(t, cond)
	if got := m.HashCodeFor(oracle, fresh); !got.IsCondition() {
		t.Fatalf("minting a code for a new target after freezing must fail, got %v", got)
	}
	// The already-bound target must still resolve after freezing.
	if got := m.HashCodeFor(oracle, target); got.IsCondition() || got.HashCodeValue() != c1.HashCodeValue() {
		t.Fatalf("previously bound target must still resolve after freeze, got %v", got)
	}
}

func TestPromiseFulfillIsIdempotent(t *testing.T) {
	m := newTestModel(t)
	p, cond := m.NewPromise()
	mustOK(t, cond)
	if m.PromiseState(p) != value.PromisePending {
		t.Fatalf("new promise must start pending")
	}
	if !m.Fulfill(p, value.NewInteger(7)) {
		t.Fatalf("first Fulfill must succeed")
	}
	if m.Fulfill(p, value.NewInteger(9)) {
		t.Fatalf("second Fulfill must be a no-op")
	}
	if m.PromiseResolution(p).IntegerValue() != 7 {
		t.Fatalf("resolution must keep the first fulfillment's value")
	}
	if m.Reject(p, value.NewCondition(value.CauseWat, 0)) {
		t.Fatalf("Reject after Fulfill must be a no-op")
	}
}

func TestPromiseWaiterQueue(t *testing.T) {
	m := newTestModel(t)
	p, cond := m.NewPromise()
	mustOK(t, cond)
	mustOK(t, m.AddWaiter(p, value.NewInteger(1)))
	mustOK(t, m.AddWaiter(p, value.NewInteger(2)))
	got := m.DrainWaiters(p)
	if len(got) != 2 || got[0].IntegerValue() != 1 || got[1].IntegerValue() != 2 {
		t.Fatalf("got %v", got)
	}
	if more := m.DrainWaiters(p); len(more) != 0 {
		t.Fatalf("waiters must be empty after draining, got %v", more)
	}
}
