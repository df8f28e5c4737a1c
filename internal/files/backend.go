package files

import (
	"os"
	"path/filepath"
	"runtime"
)

// BackendPackage is the directory holding the backend's Python package.
const BackendPackage = "mailcore"

// IsBackendRoot reports whether dir holds the backend's Python package.
func IsBackendRoot(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, BackendPackage, "__init__.py"))
	return err == nil && !fi.IsDir()
}

// FindBackendRoot walks up from each of dirs in turn and returns the first directory
// that holds the backend package, or "" if none does.
func FindBackendRoot(dirs ...string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		dir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		for {
			if IsBackendRoot(dir) {
				return dir
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return ""
}

// DefaultSearchDirs are where the backend is looked for when nothing is configured:
// next to the running executable, then the working directory.
func DefaultSearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return dirs
}

// Python returns the interpreter to run the backend with: the project's virtualenv
// under root if there is one, else "python" from PATH.
func Python(root string) string {
	if root != "" {
		venv := filepath.Join(root, ".venv", "bin", "python")
		if runtime.GOOS == "windows" {
			venv = filepath.Join(root, ".venv", "Scripts", "python.exe")
		}
		if fi, err := os.Stat(venv); err == nil && !fi.IsDir() {
			return venv
		}
	}
	return "python"
}
