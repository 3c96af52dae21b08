package citation

import (
	"testing"

	"github.com/beevik/etree"
)

// parseRef parses an XML fragment and returns its root element.
func parseRef(t *testing.T, xml string) *etree.Element {
	t.Helper()

	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return doc.Root()
}

func TestReconstruct(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{
			name: "person group then title then pmid",
			xml: `<ref id="r1"><element-citation publication-type="journal">` +
				`<person-group person-group-type="author">` +
				`<name><surname>Smith</surname></name>` +
				`<name><surname>Jones</surname></name>` +
				`<name><surname>Lee</surname></name>` +
				`</person-group>` +
				`<article-title>A study</article-title>` +
				`<pub-id pub-id-type="pmid">12345</pub-id>` +
				`</element-citation></ref>`,
			want: "Smith, Jones, Lee. A study, PMID: 12345",
		},
		{
			name: "element citation with doi",
			xml: `<ref id="B1"><element-citation publication-type="journal">` +
				`<person-group person-group-type="author"><name><surname>Doe</surname><given-names>J</given-names></name></person-group>` +
				`<article-title>Title here.</article-title><source>Nature</source><year>2001</year>` +
				`<volume>5</volume><fpage>1</fpage><lpage>9</lpage>` +
				`<pub-id pub-id-type="doi">10.1/abc</pub-id>` +
				`</element-citation></ref>`,
			want: "Doe, J. Title here, Nature, 2001, 5, 1, 9, DOI: 10.1/abc",
		},
		{
			name: "mixed citation keeps prose spacing",
			xml: `<ref id="B2"><mixed-citation publication-type="journal">` +
				`<person-group person-group-type="author"><name><surname>Roe</surname> <given-names>A</given-names></name></person-group>` +
				` (<year>1999</year>). <article-title>Something</article-title>. <source>Cell</source> ` +
				`<volume>3</volume>: <fpage>10</fpage>–<lpage>20</lpage>.` +
				`</mixed-citation></ref>`,
			want: "Roe, A (1999). Something. Cell 3: 10–20.",
		},
		{
			name: "citation tag with pmcid",
			xml:  `<ref><citation><source>X</source><pub-id pub-id-type="pmcid">PMC5</pub-id></citation></ref>`,
			want: "X, PMC: PMC5",
		},
		{
			name: "leading text node does not count as first text",
			xml:  `<ref><mixed-citation>See <source>Book</source> p. <fpage>4</fpage></mixed-citation></ref>`,
			want: "See Book p. 4",
		},
		{
			name: "first citation child wins",
			xml:  `<ref><label>1.</label><mixed-citation>First</mixed-citation><element-citation><source>Second</source></element-citation></ref>`,
			want: "First",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reconstruct(parseRef(t, tt.xml))
			if !ok {
				t.Fatalf("Reconstruct() ok = false, want %q", tt.want)
			}
			if got != tt.want {
				t.Errorf("Reconstruct() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReconstruct_Empty(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"no citation child", `<ref id="r"><note>nothing here</note></ref>`},
		{"empty citation", `<ref><element-citation/></ref>`},
		{"blank citation", `<ref><mixed-citation>  <source> </source> </mixed-citation></ref>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Reconstruct(parseRef(t, tt.xml)); ok {
				t.Errorf("Reconstruct() = %q, want no citation", got)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  a \n\t b  ", "a b"},
		{"a , b . c", "a, b. c"},
		{"10 - 20", "10 -20"},
		{"a., b", "a, b"},
		{"a.; b", "a; b"},
		{"x (. . y", "x (y"},
		{"x (   y", "x (y"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Clean(tt.input); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWalk(t *testing.T) {
	root := parseRef(t, `<c>a<person-group><name>b</name>c</person-group><x/>d<!-- skip --></c>`)
	nodes := Walk(root)

	want := []struct {
		kind NodeKind
		text string
		inPG bool
	}{
		{TextNode, "a", false},
		{ElementNode, "", false},
		{ElementNode, "b", true},
		{TextNode, "b", true},
		{TextNode, "c", true},
		{ElementNode, "", false},
		{TextNode, "d", false},
	}

	if len(nodes) != len(want) {
		t.Fatalf("len(Walk()) = %d, want %d", len(nodes), len(want))
	}
	for i, w := range want {
		n := nodes[i]
		if n.Kind != w.kind || n.Text != w.text || n.InPersonGroup != w.inPG {
			t.Errorf("node %d = {%v %q %v}, want {%v %q %v}", i, n.Kind, n.Text, n.InPersonGroup, w.kind, w.text, w.inPG)
		}
	}
}
