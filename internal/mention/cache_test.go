package mention

import "testing"

func TestCacheCheckAndAdd(t *testing.T) {
	c := NewCache()

	if c.Check(1) {
		t.Fatal("expected id 1 to be unprocessed initially")
	}
	c.Add(1)
	if !c.Check(1) {
		t.Fatal("expected id 1 to be processed after Add")
	}
	if c.Check(2) {
		t.Fatal("expected id 2 to remain unprocessed")
	}
}
