package convert

import (
	"strings"
	"testing"
)

func TestHTMLConverter(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Result
	}{
		{
			name: "plain paragraph",
			html: "<html><body><p>one two three</p></body></html>",
			want: Result{WordCount: 3, Text: "one two three"},
		},
		{
			name: "structure detected",
			html: `<html><head><title>ignored words here</title><style>.a{}</style></head><body>
				<h2>Title</h2><ul><li>a</li></ul><pre>x := 1</pre>
				<script>var notCounted = 1;</script></body></html>`,
			want: Result{WordCount: 5, HasHeadings: true, HasLists: true, HasCodeBlocks: true, Text: "Title a x := 1"},
		},
		{
			name: "empty list does not count",
			html: "<body><ul></ul><p>word</p></body>",
			want: Result{WordCount: 1, Text: "word"},
		},
		{
			name: "empty document",
			html: "",
			want: Result{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLConverter{}.Convert(tt.html)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHTMLConverterLongPage(t *testing.T) {
	body := "<body><article>" + strings.Repeat("word ", 1600) + "</article></body>"
	got, err := HTMLConverter{}.Convert(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.WordCount != 1600 {
		t.Fatalf("WordCount = %d, want 1600", got.WordCount)
	}
}

func TestMarkdown(t *testing.T) {
	md := "# Heading\n\nSome text here.\n\n1. first\n2. second\n\n```go\nfmt.Println()\n```\n"
	got := Markdown(md)
	if !got.HasHeadings || !got.HasLists || !got.HasCodeBlocks {
		t.Fatalf("structure not detected: %+v", got)
	}
	if got.WordCount != 12 {
		t.Fatalf("WordCount = %d, want 12", got.WordCount)
	}
}
