package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/contractforge/internal/contract"
)

func sample(t *testing.T) Code {
	t.Helper()
	code, err := New([]File{
		{Path: "service/router.go", Content: "package service\n", Component: contract.ComponentService},
		{Path: "docs/README.md", Content: "# blog\n", Component: contract.ComponentDocs},
		{Path: "schema/migrations/0001_init.sql", Content: "-- init\n", Component: contract.ComponentSchema},
	}, Meta{Targets: []string{"docs", "schema", "service"}})
	require.NoError(t, err)
	return code
}

func TestNewSortsAndRejectsDuplicates(t *testing.T) {
	code := sample(t)
	assert.Equal(t, []string{"docs/README.md", "schema/migrations/0001_init.sql", "service/router.go"}, code.Paths())

	_, err := New([]File{{Path: "a"}, {Path: "a"}}, Meta{})
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	code := sample(t)
	f, ok := code.Get("service/router.go")
	require.True(t, ok)
	assert.Equal(t, "package service\n", f.Content)

	_, ok = code.Get("service/missing.go")
	assert.False(t, ok)
}

func TestEqualIgnoresMeta(t *testing.T) {
	a := sample(t)
	b := a.Clone()
	b.Meta.Origin = "correct"
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Digest(), b.Digest())

	b.Files[0].Content += "x"
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, "# blog\nx", a.Files[0].Content, "clone must not share file storage")
}

func TestEditLeavesBaseUntouched(t *testing.T) {
	base := sample(t)
	e := NewEdit(base)
	e.Set("service/router.go", "package service // edited\n", contract.ComponentService)
	e.Set("service/extra.go", "package service\n", contract.ComponentService)
	require.NoError(t, e.Rename("docs/README.md", "docs/readme.md"))
	assert.Error(t, e.Rename("docs/missing.md", "docs/x.md"))
	assert.Error(t, e.Rename("schema/migrations/0001_init.sql", "service/router.go"))

	got, err := e.Apply(Meta{Origin: "correct"})
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/readme.md", "schema/migrations/0001_init.sql", "service/extra.go", "service/router.go"}, got.Paths())
	f, _ := got.Get("service/router.go")
	assert.Contains(t, f.Content, "edited")

	orig, _ := base.Get("service/router.go")
	assert.Equal(t, "package service\n", orig.Content)
	assert.Equal(t, []string{"docs/README.md", "service/extra.go", "service/router.go"}, e.Touched())
}

func TestWriteAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	code := sample(t)
	require.NoError(t, WriteDir(dir, code))

	data, err := os.ReadFile(filepath.Join(dir, "service", "router.go"))
	require.NoError(t, err)
	assert.Equal(t, "package service\n", string(data))

	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	assert.True(t, code.Equal(loaded))
	f, _ := loaded.Get("schema/migrations/0001_init.sql")
	assert.Equal(t, contract.ComponentSchema, f.Component)
}

func TestWriteDirRefusesEscape(t *testing.T) {
	code, err := New([]File{{Path: "../outside.txt", Content: "x"}}, Meta{})
	require.NoError(t, err)
	assert.Error(t, WriteDir(t.TempDir(), code))
}
