package daemon

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"
)

// FileFilter reports whether a host path (relative to the seed root, slash
// separated) is copied into the namespace.
type FileFilter func(relPath string, isDir bool) bool

// BuildFileFilter creates a FileFilter that drops excluded paths and,
// when gitignoreEnabled is set, anything matched by a .gitignore in the tree.
func BuildFileFilter(rootDir string, gitignoreEnabled bool, excludes []string) FileFilter {
	var matcher *gitignoreMatcher
	if gitignoreEnabled {
		var err error
		matcher, err = newGitignoreMatcher(rootDir)
		if err != nil {
			log.Warnf("[Seed] failed to build gitignore matcher: %v", err)
		}
	}

	return func(relPath string, isDir bool) bool {
		for _, exc := range excludes {
			exc = strings.Trim(filepath.ToSlash(exc), "/")
			if exc == "" {
				continue
			}
			if relPath == exc || strings.HasPrefix(relPath, exc+"/") {
				return false
			}
		}
		return !matcher.isIgnored(relPath, isDir)
	}
}

// gitignoreMatcher holds the .gitignore rules of a tree, each scoped to
// the directory its file lives in
type gitignoreMatcher struct {
	matchers []scopedMatcher
}

type scopedMatcher struct {
	dirPrefix string
	ignore    *ignore.GitIgnore
}

func newGitignoreMatcher(rootDir string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}

	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != rootDir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Debugf("[Seed] skip unreadable %s: %v", path, readErr)
			return nil
		}
		relDir, relErr := filepath.Rel(rootDir, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if relDir == "." {
			relDir = ""
		}

		m.matchers = append(m.matchers, scopedMatcher{
			dirPrefix: filepath.ToSlash(relDir),
			ignore:    ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gitignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil || len(m.matchers) == 0 {
		return false
	}

	checkPath := relPath
	if isDir {
		checkPath = relPath + "/"
	}

	for _, sm := range m.matchers {
		pathToCheck := checkPath
		if sm.dirPrefix != "" {
			prefix := sm.dirPrefix + "/"
			if !strings.HasPrefix(relPath, prefix) {
				continue
			}
			pathToCheck = strings.TrimPrefix(checkPath, prefix)
		}
		if sm.ignore.MatchesPath(pathToCheck) {
			return true
		}
	}
	return false
}
