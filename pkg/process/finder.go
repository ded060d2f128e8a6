package process

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// commLen is the kernel's limit for /proc/<pid>/comm, terminator excluded.
const commLen = 15

// Finder locates running processes by name.
type Finder interface {
	FindByName(token string) ([]int, error)
}

// ProcFinder scans a procfs tree. The daemon's own pid is never reported.
type ProcFinder struct {
	Fs   afero.Fs
	Root string
	Self int
}

// NewProcFinder returns a finder over the host's /proc.
func NewProcFinder() *ProcFinder {
	return &ProcFinder{
		Fs:   afero.NewOsFs(),
		Root: "/proc",
		Self: os.Getpid(),
	}
}

// FindByName returns the sorted pids whose command name or argv[0] base name
// equals token.
func (f *ProcFinder) FindByName(token string) ([]int, error) {
	entries, err := afero.ReadDir(f.Fs, f.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Root, err)
	}

	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == f.Self {
			continue
		}
		if f.matches(entry.Name(), token) {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// Processes may exit between listing and reading, so read errors are treated
// as a non-match.
func (f *ProcFinder) matches(dir, token string) bool {
	if comm, err := afero.ReadFile(f.Fs, path.Join(f.Root, dir, "comm")); err == nil {
		name := strings.TrimSpace(string(comm))
		if name == token {
			return true
		}
		if len(name) == commLen && strings.HasPrefix(token, name) {
			return true
		}
	}

	cmdline, err := afero.ReadFile(f.Fs, path.Join(f.Root, dir, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0 := cmdline
	if i := bytes.IndexByte(cmdline, 0); i >= 0 {
		argv0 = cmdline[:i]
	}
	return path.Base(string(argv0)) == token
}
