package main

import (
	"slices"
	"testing"
)

func TestParseTaskIDs(t *testing.T) {
	ids, err := parseTaskIDs(" 3, 1,3,,7 ")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !slices.Equal(ids, []int64{3, 1, 7}) {
		t.Fatalf("ожидали [3 1 7], получили %v", ids)
	}

	for _, raw := range []string{"", " , ", "1,x", "0", "-2"} {
		if _, err := parseTaskIDs(raw); err == nil {
			t.Fatalf("для %q ожидали ошибку", raw)
		}
	}
}
