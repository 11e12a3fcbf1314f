package flatten

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxFileSize caps how large a single file may be before flattening skips it
// (1 MB). Anything bigger is overwhelmingly generated or vendored content.
const maxFileSize = 1 << 20

// defaultIgnores are used when no .repovetignore file exists.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	".repovet",
	"dist",
	"build",
}

// textExtensions lists file extensions worth flattening. Content is still
// sniffed for binary data before inclusion.
var textExtensions = map[string]bool{
	"txt": true, "md": true, "rst": true,
	"go": true, "py": true, "js": true, "jsx": true, "ts": true, "tsx": true,
	"java": true, "c": true, "h": true, "cpp": true, "hpp": true,
	"rs": true, "rb": true, "php": true, "sh": true, "sql": true,
	"css": true, "html": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "mod": true,
}

type fileInfo struct {
	path    string
	relPath string
}

// collectFiles walks the tree rooted at root and returns every candidate
// text file, sorted by relative path so the same tree always yields the same
// sequence. Ignored directories, symlinks, oversized and empty files, and
// unknown extensions are filtered out here; binary sniffing happens on read.
func collectFiles(root string) ([]fileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignores := loadIgnorePatterns(absRoot)

	var files []fileInfo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			rel, _ := filepath.Rel(absRoot, path)
			if matchesIgnore(d.Name(), filepath.ToSlash(rel), ignores) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !textExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize || info.Size() == 0 {
			return nil
		}
		rel, _ := filepath.Rel(absRoot, path)
		files = append(files, fileInfo{path: path, relPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

// loadIgnorePatterns reads .repovetignore from the repository root, falling
// back to the defaults when the file is absent or empty.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, ".repovetignore"))
	if err != nil {
		return defaultIgnores
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return defaultIgnores
	}
	return patterns
}

// matchesIgnore checks a directory name and relative path against the ignore
// patterns, both literally and as globs.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if strings.HasPrefix(relPath, p) {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
