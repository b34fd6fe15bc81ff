package serialize

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func defineNoteGenus(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := genus.Define(ctx, st, genus.Definition{
		Kind: genus.KindEntity,
		Name: "Note",
		Attributes: []genus.Attribute{
			{Name: "title", Type: "text", Required: true},
			{Name: "body", Type: "text"},
		},
	})
	require.NoError(t, err)
	return id
}

func defineNoteSerialization(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := Define(ctx, st, Definition{
		Name:  "note-export",
		Input: Input{QueryType: "by_genus", GenusName: "Note"},
		Output: Output{Format: "markdown", OutputShape: "flat"},
		Handler: []TreeNode{
			{Kind: NodeFile, Fields: map[string]any{
				"name":    "note.md",
				"content": "---\ntitle: {{entity.title}}\n---\n{{entity.body}}",
			}},
		},
	})
	require.NoError(t, err)
	return id
}

func TestRunProducesFiletreePerEntity(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)
	serID := defineNoteSerialization(t, ctx, st)

	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "hello", "body": "world"},
	})
	require.NoError(t, err)

	result, err := Run(ctx, st, serID, RunOpts{})
	require.NoError(t, err)
	root, ok := result.Trees[noteID]
	require.True(t, ok)
	require.Equal(t, "note.md", root.Name)
	require.Contains(t, root.Content, "title: hello")
	require.Contains(t, root.Content, "world")
}

func TestExportWriteFiletreeReadFiletreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)
	serID := defineNoteSerialization(t, ctx, st)

	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "hello", "body": "world"},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	result, err := Export(ctx, st, serID, dir, RunOpts{})
	require.NoError(t, err)
	require.Contains(t, result.Manifest, noteID)

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, noteID, manifest[noteID])

	runs, err := st.ListSerializationRuns(ctx, serID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	tree, err := ReadFiletree(dir + "/" + noteID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Equal(t, "note.md", tree.Children[0].Name)
	require.Contains(t, tree.Children[0].Content, "title: hello")

	_, err = os.Stat(dir + "/_manifest.json")
	require.NoError(t, err)
}

func TestExportImportFiletreeRoundTripDoesNotCollideAcrossEntitiesSharingGenus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)
	serID := defineNoteSerialization(t, ctx, st)

	firstID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "first", "body": "alpha"},
	})
	require.NoError(t, err)
	secondID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "second", "body": "beta"},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	result, err := Export(ctx, st, serID, dir, RunOpts{})
	require.NoError(t, err)
	require.NotEqual(t, result.Manifest[firstID], result.Manifest[secondID],
		"two entities of the same genus must land in distinct manifest directories")

	root, err := ReadFiletree(dir)
	require.NoError(t, err)

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)

	results, err := ImportFiletree(ctx, st, root, manifest)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Empty(t, results[firstID].Applied, "re-importing unchanged frontmatter emits zero deltas")
	require.Empty(t, results[secondID].Applied)

	// Edit only the second entity's exported file on disk, then
	// re-export-read and re-import: the delta must land on secondID,
	// never on firstID, even though both entities share "note.md" as
	// their handler-generated leaf filename.
	secondDir := dir + "/" + manifest[secondID]
	require.NoError(t, os.WriteFile(secondDir+"/note.md", []byte("---\ntitle: second\nbody: changed\n---\n"), 0600))

	root, err = ReadFiletree(dir)
	require.NoError(t, err)
	results, err = ImportFiletree(ctx, st, root, manifest)
	require.NoError(t, err)
	require.Empty(t, results[firstID].Applied, "editing the second entity's file must not produce deltas for the first")
	require.Len(t, results[secondID].Applied, 1)
	require.Equal(t, "body", results[secondID].Applied[0].Key)
	require.Equal(t, "changed", results[secondID].Applied[0].NewValue)
}

func TestImportOnlyEmitsDeltasForChangedAttributes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "hello", "body": "world"},
	})
	require.NoError(t, err)

	result, err := Import(ctx, st, noteID, Frontmatter{"title": "hello", "body": "world"})
	require.NoError(t, err)
	require.Empty(t, result.Applied, "re-importing unchanged frontmatter emits zero deltas")

	result, err = Import(ctx, st, noteID, Frontmatter{"title": "hello", "body": "changed"})
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "body", result.Applied[0].Key)
}

func TestImportSkipsStatusWithWarning(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{
		Attributes: map[string]any{"title": "hello"},
	})
	require.NoError(t, err)

	result, err := Import(ctx, st, noteID, Frontmatter{"status": "done"})
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0].Message, "transitionStatus")
}

func TestParseFrontmatterSplitsYamlBlockFromBody(t *testing.T) {
	content := "---\ntitle: hello\n---\nbody text"
	fm, body, err := ParseFrontmatter(content)
	require.NoError(t, err)
	require.Equal(t, "hello", fm["title"])
	require.Equal(t, "body text", body)
}

func TestParseFrontmatterWithNoBlockReturnsContentUnchanged(t *testing.T) {
	content := "just a plain file"
	fm, body, err := ParseFrontmatter(content)
	require.NoError(t, err)
	require.Empty(t, fm)
	require.Equal(t, content, body)
}
