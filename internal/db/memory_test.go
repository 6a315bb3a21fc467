package db

import "testing"

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}
