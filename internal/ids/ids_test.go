package ids

import "testing"

func TestCodeFormatting(t *testing.T) {
	cases := []struct {
		prefix string
		seq    int64
		want   string
	}{
		{"TR", 7, "TR00007"},
		{"TAR", 12, "TAR00012"},
		{"T", 1, "T00001"},
		{"T", 123456, "T123456"},
	}
	for _, c := range cases {
		if got := Code(c.prefix, c.seq); got != c.want {
			t.Fatalf("Code(%q, %d) = %q, want %q", c.prefix, c.seq, got, c.want)
		}
	}
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		tok := NewToken()
		if seen[tok] {
			t.Fatalf("duplicate token %q after %d iterations", tok, i)
		}
		seen[tok] = true
	}
}
