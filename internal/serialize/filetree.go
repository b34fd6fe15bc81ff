package serialize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/farant/smaragda/internal/types"
)

// manifestFile is the sibling file Export writes alongside a
// serialization run's output directory (spec.md §4.8 "a _manifest.json
// recording entity id -> directory mapping").
const manifestFile = "_manifest.json"

// WriteFiletree writes node's subtree rooted at dir, creating
// directories and files as needed. Each file is written atomically via
// a temp-file-then-rename, mirroring the teacher's manifest write
// (internal/export/manifest.go).
func WriteFiletree(dir string, node *types.FiletreeNode) error {
	if node == nil {
		return nil
	}
	switch node.Type {
	case types.FiletreeFile:
		return writeFileAtomic(filepath.Join(dir, node.Name), []byte(node.Content))
	case types.FiletreeDirectory:
		path := dir
		if node.Name != "" {
			path = filepath.Join(dir, node.Name)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("serialize: mkdir %s: %w", path, err)
		}
		for _, child := range node.Children {
			if err := WriteFiletree(path, child); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("serialize: filetree node %q has unknown type %q", node.Name, node.Type)
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("serialize: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("serialize: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("serialize: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("serialize: close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("serialize: replace %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// ReadFiletree reads dir back into a FiletreeNode tree, the inverse of
// WriteFiletree. The manifest file itself is skipped.
func ReadFiletree(dir string) (*types.FiletreeNode, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("serialize: stat %s: %w", dir, err)
	}
	return readNode(dir, info)
}

func readNode(path string, info os.FileInfo) (*types.FiletreeNode, error) {
	name := filepath.Base(path)
	if !info.IsDir() {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("serialize: read %s: %w", path, err)
		}
		return &types.FiletreeNode{Name: name, Type: types.FiletreeFile, Content: string(content)}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("serialize: readdir %s: %w", path, err)
	}
	node := &types.FiletreeNode{Name: name, Type: types.FiletreeDirectory}
	for _, entry := range entries {
		if entry.Name() == manifestFile {
			continue
		}
		childInfo, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("serialize: stat %s: %w", entry.Name(), err)
		}
		child, err := readNode(filepath.Join(path, entry.Name()), childInfo)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// WriteManifest atomically writes the entity id -> directory mapping
// produced by a serialization run alongside its output (spec.md §4.8).
func WriteManifest(dir string, manifest map[string]string) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize: marshal manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, manifestFile), data)
}

// ReadManifest reads back a manifest written by WriteManifest.
func ReadManifest(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("serialize: read manifest: %w", err)
	}
	manifest := map[string]string{}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("serialize: unmarshal manifest: %w", err)
	}
	return manifest, nil
}
