package services

import (
	"strings"
	"testing"

	"docgraph/domain/core/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(id, text string, children ...entities.ContentBlock) entities.ContentBlock {
	return entities.ContentBlock{ID: id, BodyText: text, Children: children}
}

func ref(id string) string {
	return "[link](block://" + id + ")"
}

func TestExtract_References(t *testing.T) {
	tests := []struct {
		name   string
		blocks []entities.ContentBlock
		want   []string
	}{
		{
			name:   "no content",
			blocks: nil,
			want:   nil,
		},
		{
			name:   "single reference",
			blocks: []entities.ContentBlock{block("r", "see "+ref("y"))},
			want:   []string{"y"},
		},
		{
			name:   "duplicates preserved",
			blocks: []entities.ContentBlock{block("r", ref("y")+" and again "+ref("y"))},
			want:   []string{"y", "y"},
		},
		{
			name: "pre-order across nesting",
			blocks: []entities.ContentBlock{
				block("r", ref("1"),
					block("c1", ref("2"),
						block("c11", ref("3")),
					),
					block("c2", ref("4")),
				),
				block("s", ref("5")),
			},
			want: []string{"1", "2", "3", "4", "5"},
		},
		{
			name:   "other schemes ignored",
			blocks: []entities.ContentBlock{block("r", "[web](https://example.com) [x](doc://y) "+ref("ok"))},
			want:   []string{"ok"},
		},
		{
			name:   "empty label still a reference",
			blocks: []entities.ContentBlock{block("r", "[](block://abc-123)")},
			want:   []string{"abc-123"},
		},
		{
			name: "link titles allowed",
			blocks: []entities.ContentBlock{block("r",
				`[x](block://t1 "Title") [y](block://t2 'single') [z](block://t3 (paren)) [w](block://t4 "with ) inside")`)},
			want: []string{"t1", "t2", "t3", "t4"},
		},
		{
			name:   "unquoted trailing text is not a title",
			blocks: []entities.ContentBlock{block("r", "[a](block://id extra)")},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.blocks)
			assert.Equal(t, tt.want, got.References)
		})
	}
}

func TestExtract_RepeatedCallsDoNotShareState(t *testing.T) {
	tree := []entities.ContentBlock{block("r", ref("a")+" "+ref("b"))}

	first := Extract(tree)
	second := Extract(tree)
	other := Extract([]entities.ContentBlock{block("q", ref("c"))})

	assert.Equal(t, []string{"a", "b"}, first.References)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"c"}, other.References)
}

func tagsOf(text string) []string {
	return Extract([]entities.ContentBlock{{BodyText: text}}).Tags
}

func TestExtract_NestedTags(t *testing.T) {
	got := tagsOf("working on #a/b/c today")

	assert.ElementsMatch(t, []string{"a", "a/b", "a/b/c"}, got)
	assert.Len(t, got, 3)
}

func TestExtract_Tags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "leading tag", text: "#todo write tests", want: []string{"todo"}},
		{name: "dedup across occurrences", text: "#x then #x/y then #x", want: []string{"x", "x/y"}},
		{name: "heading is not a tag", text: "# Heading\n## Sub", want: nil},
		{name: "url fragment is not a tag", text: "https://example.com/page#section", want: nil},
		{name: "word suffix is not a tag", text: "issue#42", want: nil},
		{name: "trailing slash dropped", text: "#proj/", want: []string{"proj"}},
		{name: "underscore and digits", text: "(#q3_plan)", want: []string{"q3_plan"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tagsOf(tt.text))
		})
	}
}

func TestExtract_TagsAcrossTreeFirstSeenOrder(t *testing.T) {
	tree := []entities.ContentBlock{
		block("r", "#b", block("c", "#a/z")),
		block("s", "#b/q"),
	}

	got := Extract(tree)

	assert.Equal(t, []string{"b", "a", "a/z", "b/q"}, got.Tags)
}

func TestExtract_DeepNestingUsesNoRecursion(t *testing.T) {
	const depth = 50000
	root := entities.ContentBlock{ID: "leaf", BodyText: ref("deep") + " #bottom"}
	for i := 0; i < depth; i++ {
		root = entities.ContentBlock{ID: "n", Children: []entities.ContentBlock{root}}
	}

	got := Extract([]entities.ContentBlock{root})

	require.Equal(t, []string{"deep"}, got.References)
	assert.Equal(t, []string{"bottom"}, got.Tags)
}

func TestExtract_IgnoresWhitespaceInTarget(t *testing.T) {
	text := strings.Join([]string{"[a](block://has space)", ref("fine")}, " ")

	got := Extract([]entities.ContentBlock{block("r", text)})

	assert.Equal(t, []string{"fine"}, got.References)
}
