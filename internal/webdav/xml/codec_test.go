package xml

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClark(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ns      string
		local   string
		wantErr bool
	}{
		{"dav", "{DAV:}getetag", "DAV:", "getetag", false},
		{"no namespace", "foo", "", "foo", false},
		{"unterminated", "{DAV:getetag", "", "", true},
		{"empty local", "{DAV:}", "", "", true},
		{"empty", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, local, err := ParseClark(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ns, ns)
			assert.Equal(t, tt.local, local)
		})
	}
	assert.True(t, IsClark("{DAV:}href"))
	assert.False(t, IsClark("href"))
}

func TestDecodeGenericElements(t *testing.T) {
	body := `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:z="urn:example">
  <d:prop>
    <d:getetag/>
    <z:color z:tone="dark">blue</z:color>
  </d:prop>
</d:propfind>`

	el, err := Decode([]byte(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "{DAV:}propfind", el.Name)

	prop := el.Child(DAV("prop"))
	require.NotNil(t, prop)
	assert.Equal(t, []string{"{DAV:}getetag", "{urn:example}color"}, prop.ChildNames())

	color := prop.Child("{urn:example}color")
	assert.Equal(t, "blue", color.Text)
	assert.Equal(t, "dark", color.Attr("{urn:example}tone"))
	assert.Nil(t, color.Value)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`<d:prop xmlns:d="DAV:"><d:x></d:prop>`), nil)
	require.Error(t, err)
	assert.True(t, IsParseError(err))

	_, err = Decode([]byte(`<q:prop/>`), nil)
	require.Error(t, err)
	assert.True(t, IsParseError(err))

	_, err = Decode([]byte(``), nil)
	assert.True(t, IsParseError(err))
}

func TestDecodeInvokesDeserializersBottomUp(t *testing.T) {
	var order []string
	record := func(el *Element) (any, error) {
		order = append(order, el.Name)
		return el.Name, nil
	}
	m := ElementMap{
		"{urn:a}outer": DeserializerFunc(record),
		"{urn:a}inner": DeserializerFunc(record),
	}
	el, err := Decode([]byte(`<outer xmlns="urn:a"><inner/><inner/></outer>`), m)
	require.NoError(t, err)
	assert.Equal(t, []string{"{urn:a}inner", "{urn:a}inner", "{urn:a}outer"}, order)
	assert.Equal(t, "{urn:a}outer", el.Value)
	assert.Equal(t, "{urn:a}inner", el.Children[0].Value)
}

func TestDecodeDeserializerError(t *testing.T) {
	boom := errors.New("boom")
	m := ElementMap{"{urn:a}bad": DeserializerFunc(func(*Element) (any, error) { return nil, boom })}
	_, err := Decode([]byte(`<root xmlns="urn:a"><bad/></root>`), m)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "{urn:a}bad")
}

func TestWriterPrefixes(t *testing.T) {
	s := NewService()
	out, err := s.Write(DAV("multistatus"), map[string]any{
		"{urn:one}a": "1",
		"{urn:two}b": nil,
		DAV("href"):  "/x",
	})
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `<d:multistatus xmlns:d="DAV:" xmlns:x1="urn:one" xmlns:x2="urn:two">`)
	assert.Contains(t, doc, "<x1:a>1</x1:a>")
	assert.Contains(t, doc, "<x2:b/>")
	assert.Contains(t, doc, "<d:href>/x</d:href>")
}

func TestRoundTrip(t *testing.T) {
	s := NewService()
	input := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/cal/</d:href>
    <d:propstat>
      <d:prop>
        <cal:calendar-description lang="en">Work</cal:calendar-description>
        <d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	first, err := Decode([]byte(input), nil)
	require.NoError(t, err)

	w := s.NewWriter()
	require.NoError(t, w.Write(first))
	out, err := w.Bytes()
	require.NoError(t, err)

	second, err := Decode(out, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodePropFind(t *testing.T) {
	s := NewService()
	tests := []struct {
		name     string
		body     string
		allProp  bool
		propName bool
		props    []string
		include  []string
	}{
		{
			name:  "prop",
			body:  `<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/><d:getetag/></d:prop></d:propfind>`,
			props: []string{DAV("resourcetype"), DAV("getetag")},
		},
		{
			name:    "allprop with include",
			body:    `<d:propfind xmlns:d="DAV:"><d:allprop/><d:include><d:supported-report-set/></d:include></d:propfind>`,
			allProp: true,
			include: []string{DAV("supported-report-set")},
		},
		{
			name:     "propname",
			body:     `<d:propfind xmlns:d="DAV:"><d:propname/></d:propfind>`,
			propName: true,
		},
		{
			name:    "empty propfind",
			body:    `<d:propfind xmlns:d="DAV:"/>`,
			allProp: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, err := s.Expect(DAV("propfind"), []byte(tt.body))
			require.NoError(t, err)
			req, ok := el.Value.(*PropFindRequest)
			require.True(t, ok)
			assert.Equal(t, tt.allProp, req.AllProp)
			assert.Equal(t, tt.propName, req.PropName)
			assert.Equal(t, tt.props, req.Properties)
			assert.Equal(t, tt.include, req.Include)
		})
	}
}

func TestExpectWrongRoot(t *testing.T) {
	_, err := NewService().Expect(DAV("propfind"), []byte(`<d:lockinfo xmlns:d="DAV:"/>`))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestDecodePropertyUpdate(t *testing.T) {
	body := `<d:propertyupdate xmlns:d="DAV:" xmlns:z="urn:z">
  <d:set><d:prop>
    <z:a>one</z:a>
    <z:b><z:inner>x</z:inner></z:b>
    <d:resourcetype><d:collection/></d:resourcetype>
  </d:prop></d:set>
  <d:remove><d:prop><z:c/></d:prop></d:remove>
  <d:set><d:prop><z:c>back</z:c></d:prop></d:set>
</d:propertyupdate>`

	el, err := NewService().Expect(DAV("propertyupdate"), []byte(body))
	require.NoError(t, err)
	req := el.Value.(*PropPatchRequest)

	assert.Equal(t, []string{"{urn:z}a", "{urn:z}b", DAV("resourcetype"), "{urn:z}c"}, req.Order)
	assert.Equal(t, "one", req.Properties["{urn:z}a"])
	assert.Equal(t, "back", req.Properties["{urn:z}c"])
	assert.Equal(t, ResourceType{DAV("collection")}, req.Properties[DAV("resourcetype")])

	complexValue, ok := req.Properties["{urn:z}b"].(*Complex)
	require.True(t, ok)
	require.Len(t, complexValue.Children, 1)
	assert.Equal(t, "x", complexValue.Children[0].Text)
}

func TestFragmentRoundTrip(t *testing.T) {
	s := NewService()
	children := []*Element{{Name: "{urn:z}inner", Text: "x", Attrs: map[string]string{"k": "v"}}}

	data, err := s.MarshalFragment("", children)
	require.NoError(t, err)
	assert.False(t, strings.Contains(data, "\n  "))

	c, err := s.UnmarshalFragment(data)
	require.NoError(t, err)
	assert.Equal(t, children, c.Children)
}

func TestValues(t *testing.T) {
	s := NewService()
	out, err := s.Write(DAV("prop"), []any{
		&Href{Hrefs: []string{"/a", "/b"}},
		ResourceType{DAV("collection")},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<d:href>/a</d:href>")
	assert.Contains(t, string(out), "<d:collection/>")

	assert.Equal(t, "HTTP/1.1 424 Failed Dependency", StatusLine(424))
	assert.Equal(t, "/a", NewHref("/a").First())
	assert.Equal(t, "", (*Href)(nil).First())
	assert.True(t, ResourceType{DAV("collection")}.Is(DAV("collection")))
}
