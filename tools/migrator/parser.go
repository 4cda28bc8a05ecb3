package migrator

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration represents a database migration.
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.+)$`)
)

// ParseMigrationFile reads and parses a single migration file from fsys.
func ParseMigrationFile(fsys fs.FS, name string) (*Migration, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}
	return ParseMigration(path.Base(name), string(content))
}

// ParseMigration parses migration content. The filename must follow NNN_name.sql.
func ParseMigration(filename, content string) (*Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	lines := strings.Split(content, "\n")

	upMarkerLine := -1
	noTransaction := false
	for i, line := range lines {
		if m := upMarkerRegex.FindStringSubmatch(line); m != nil {
			upMarkerLine = i
			noTransaction = strings.TrimSpace(m[1]) == "notransaction"
			break
		}
	}

	if upMarkerLine < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	// Directives and comments may follow the marker before the first statement
	var dependencies []int
	sqlStartLine := len(lines)
	for i := upMarkerLine + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if m := dependsRegex.FindStringSubmatch(line); m != nil {
			for _, depStr := range strings.Fields(m[1]) {
				dep, err := strconv.Atoi(depStr)
				if err != nil {
					return nil, fmt.Errorf("invalid dependency version '%s' in migration file: %s", depStr, filename)
				}
				dependencies = append(dependencies, dep)
			}
			continue
		}

		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		sqlStartLine = i
		break
	}

	sql := strings.TrimSpace(strings.Join(lines[min(sqlStartLine, len(lines)):], "\n"))
	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version:       version,
		Name:          matches[2],
		UpSQL:         sql,
		NoTransaction: noTransaction,
		Dependencies:  dependencies,
	}, nil
}

// LoadMigrations loads all migrations under dir in fsys, validates them, and
// returns them sorted by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		migration, err := ParseMigrationFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	if err := detectCycle(migrations); err != nil {
		return nil, err
	}

	versionSet := make(map[int]bool)
	for _, m := range migrations {
		versionSet[m.Version] = true
	}

	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if !versionSet[dep] {
				return nil, fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
		}
	}

	// Versions must be 1..n with no gaps
	for i, m := range migrations {
		if i > 0 && m.Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
		}
		if m.Version != i+1 {
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, m.Version)
		}
	}

	return migrations, nil
}

// detectCycle uses a three-color DFS to detect circular dependencies.
// White (0) = unvisited, Gray (1) = visiting, Black (2) = completed
func detectCycle(migrations []Migration) error {
	graph := make(map[int][]int)
	for _, m := range migrations {
		graph[m.Version] = m.Dependencies
	}

	color := make(map[int]int)

	var dfs func(int, []int) error
	dfs = func(node int, trail []int) error {
		color[node] = 1
		trail = append(trail, node)

		for _, dep := range graph[node] {
			switch color[dep] {
			case 1:
				return fmt.Errorf("circular dependency detected: %v", append(trail, dep))
			case 0:
				if err := dfs(dep, trail); err != nil {
					return err
				}
			}
		}

		color[node] = 2
		return nil
	}

	for _, m := range migrations {
		if color[m.Version] == 0 {
			if err := dfs(m.Version, nil); err != nil {
				return err
			}
		}
	}

	return nil
}
