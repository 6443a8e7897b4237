package index

import (
	"strings"
	"testing"
)

func BenchmarkUnescapeJS(b *testing.B) {
	// A label that needs unescaping
	input := `It\'s a \"quoted\" label with a backslash: \\`
	// Make it long enough to matter
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = unescapeJS(input)
	}
}

func BenchmarkUnescapeJSNoEscapes(b *testing.B) {
	// A selector with nothing to unescape
	input := "#order-form > div.row input.customer-name "
	// Make it long
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = unescapeJS(input)
	}
}
