package closure

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/castool/caserr"
)

func TestNormalizePathScenario(t *testing.T) {
	got := normalize(`Interface\FrameXML\FrameXML.toc`, `..\Foo\Bar.xml`)
	require.Equal(t, `Interface\Foo\Bar.xml`, got)
}

func TestNormalizeForwardSlashInput(t *testing.T) {
	got := normalize(`Interface/AddOns/Foo/Foo.toc`, `Bar/Baz.lua`)
	require.Equal(t, `Interface\AddOns\Foo\Bar\Baz.lua`, got)
}

func TestTocReferencesSkipsBlankAndCommentLines(t *testing.T) {
	refs := tocReferences([]byte("# comment\n\nFoo.lua\nBar.xml\n"))
	require.Equal(t, []string{"Foo.lua", "Bar.xml"}, refs)
}

func TestXMLReferencesStripsBOMAndFindsScriptAndInclude(t *testing.T) {
	doc := "\xEF\xBB\xBF<Ui><Script file=\"Foo.lua\"/><Include file=\"Bar.xml\"/><Frame name=\"x\"/></Ui>"
	refs, err := xmlReferences([]byte(doc))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Foo.lua", "Bar.xml"}, refs)
}

type fakeContent struct {
	byName map[string][]byte
	byID   map[uint32][]byte
}

func (f *fakeContent) ByName(_ context.Context, name string) ([]byte, error) {
	data, ok := f.byName[name]
	if !ok {
		return nil, caserr.Missf("resolver", "no such name %q", name)
	}
	return data, nil
}

func (f *fakeContent) ByID(_ context.Context, fdid uint32) ([]byte, error) {
	data, ok := f.byID[fdid]
	if !ok {
		return nil, caserr.Missf("resolver", "no such id %d", fdid)
	}
	return data, nil
}

func TestWalkExpandsTocAndFallsBackByID(t *testing.T) {
	toc := `Interface\AddOns\Foo\Foo.toc`
	lua := `Interface\AddOns\Foo\Foo.lua`
	fallback := `Interface\AddOns\Foo\Fallback.lua`

	fc := &fakeContent{
		byName: map[string][]byte{
			toc: []byte("Foo.lua\nFallback.lua\n"),
			lua: []byte("-- lua body"),
		},
		byID: map[uint32][]byte{
			42: []byte("-- fallback body"),
		},
	}
	names := map[string]uint32{
		strings.ToLower(fallback): 42,
	}

	files, err := Walk(context.Background(), fc, []string{`Interface\AddOns\Foo`}, "Wrath", names)
	require.NoError(t, err)

	byPath := map[string][]byte{}
	for _, f := range files {
		byPath[f.Path] = f.Bytes
	}
	require.Equal(t, []byte("-- lua body"), byPath[lua])
	require.Equal(t, []byte("-- fallback body"), byPath[fallback])
}

