package process

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProc(t *testing.T, fs afero.Fs, pid, comm, cmdline string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll("/proc/"+pid, 0755))
	if comm != "" {
		require.NoError(t, afero.WriteFile(fs, "/proc/"+pid+"/comm", []byte(comm+"\n"), 0644))
	}
	if cmdline != "" {
		require.NoError(t, afero.WriteFile(fs, "/proc/"+pid+"/cmdline", []byte(cmdline), 0644))
	}
}

func TestProcFinder_FindByName(t *testing.T) {
	// Given a fake process table
	fs := afero.NewMemMapFs()
	writeProc(t, fs, "1", "systemd", "/sbin/init\x00splash\x00")
	writeProc(t, fs, "42", "IFCBacquire.Gtk", "/home/ifcb/IFCBacquire/gLauncher/IFCBacquire.Gtk\x00noUI\x00")
	writeProc(t, fs, "77", "mono", "/home/ifcb/IFCBacquire/gLauncher/IFCBacquire.Gtk\x00")
	writeProc(t, fs, "300", "bash", "bash\x00-c\x00IFCBacquire.Gtk\x00")
	writeProc(t, fs, "9", "IFCBacquire.Gtk", "")
	require.NoError(t, fs.MkdirAll("/proc/self", 0755))
	require.NoError(t, afero.WriteFile(fs, "/proc/uptime", []byte("1 2"), 0644))

	finder := &ProcFinder{Fs: fs, Root: "/proc", Self: 9}

	// When searching by name
	pids, err := finder.FindByName("IFCBacquire.Gtk")

	// Then comm and argv[0] matches should be found, self excluded
	require.NoError(t, err)
	assert.Equal(t, []int{42, 77}, pids)
}

func TestProcFinder_TruncatedComm(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeProc(t, fs, "10", "acquisition-dae", "")

	finder := &ProcFinder{Fs: fs, Root: "/proc"}

	pids, err := finder.FindByName("acquisition-daemon")

	require.NoError(t, err)
	assert.Equal(t, []int{10}, pids)
}

func TestProcFinder_NoMatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeProc(t, fs, "10", "sshd", "/usr/sbin/sshd\x00")

	finder := &ProcFinder{Fs: fs, Root: "/proc"}

	pids, err := finder.FindByName("acquire")

	require.NoError(t, err)
	assert.Empty(t, pids)
}

func TestProcFinder_MissingRoot(t *testing.T) {
	finder := &ProcFinder{Fs: afero.NewMemMapFs(), Root: "/proc"}

	_, err := finder.FindByName("acquire")

	assert.Error(t, err)
}
