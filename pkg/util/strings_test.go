package util

import (
	"reflect"
	"testing"
)

func TestParseIntDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"12", 7, 12},
		{" 3 ", 7, 3},
		{"abc", 7, 7},
		{"-4", 7, -4},
	}
	for _, tc := range cases {
		if got := ParseIntDefault(tc.in, tc.def); got != tc.want {
			t.Fatalf("ParseIntDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a:9092, ,b:9092,")
	want := []string{"a:9092", "b:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected list %v", got)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}
