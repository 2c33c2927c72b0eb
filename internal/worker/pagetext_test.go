package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPageText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: " \n\t ", want: ""},
		{name: "footnotes", in: "As shown before[12], the result(3) holds².", want: "As shown before, the result holds."},
		{name: "hyphenated line break", in: "an exam-\n  ple of text", want: "an example of text"},
		{name: "typography", in: "“Quoted” text… it’s—fine", want: `"Quoted" text... it's - fine`},
		{name: "collapses lines", in: "first line\r\nsecond\n\nthird", want: "first line second third"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, cleanPageText(tc.in))
		})
	}
}
