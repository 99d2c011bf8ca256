// Package pathmap rewrites paths seen inside the sandbox into the paths
// the host sees for the same files.
//
// The sandbox mounts the project at /workspace/main and each git worktree
// at /workspace/worktrees/<name>. On the host the worktrees live next to
// the project directory:
//
//	/workspace/main/src/x.go        -> <project>/src/x.go
//	/workspace/worktrees/f1/a.go    -> <parent of project>/worktrees/f1/a.go
//	/workspace/notes.md             -> <project>/notes.md
//	/etc/hosts                      -> /etc/hosts
package pathmap

import (
	"path"
	"strings"
)

// DefaultWorkspaceRoot is where the sandbox mounts the project tree.
const DefaultWorkspaceRoot = "/workspace"

// Translator maps sandbox paths to host paths. The zero value has no
// project root and returns every path unchanged.
type Translator struct {
	// ProjectRoot is the host directory mounted at <WorkspaceRoot>/main.
	ProjectRoot string
	// WorkspaceRoot defaults to DefaultWorkspaceRoot.
	WorkspaceRoot string
}

// Translate maps containerPath using projectRoot and the default
// workspace root.
func Translate(containerPath, projectRoot string) string {
	return Translator{ProjectRoot: projectRoot}.Translate(containerPath)
}

// Translate never fails: paths outside the workspace are assumed to be
// host paths already and come back unchanged.
func (t Translator) Translate(containerPath string) string {
	if t.ProjectRoot == "" || containerPath == "" {
		return containerPath
	}
	workspace := t.WorkspaceRoot
	if workspace == "" {
		workspace = DefaultWorkspaceRoot
	}
	workspace = path.Clean(workspace)
	projectRoot := path.Clean(t.ProjectRoot)

	if rest, ok := under(containerPath, path.Join(workspace, "main")); ok {
		return join(projectRoot, rest)
	}
	if rest, ok := under(containerPath, path.Join(workspace, "worktrees")); ok && rest != "" {
		return join(path.Join(path.Dir(projectRoot), "worktrees"), rest)
	}
	if rest, ok := under(containerPath, workspace); ok {
		return join(projectRoot, rest)
	}
	return containerPath
}

// under reports whether p is prefix itself or lies beneath it, and
// returns the remainder without its leading slash. Matches only on
// whole path segments.
func under(p, prefix string) (string, bool) {
	if p == prefix {
		return "", true
	}
	if prefix == "/" {
		return strings.TrimPrefix(p, "/"), strings.HasPrefix(p, "/")
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:], true
	}
	return "", false
}

func join(root, rest string) string {
	if rest == "" {
		return root
	}
	if strings.HasSuffix(root, "/") {
		return root + rest
	}
	return root + "/" + rest
}
