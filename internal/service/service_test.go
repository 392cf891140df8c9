package service

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLaunchd(t *testing.T) (*Launchd, *[]string) {
	t.Helper()
	home := t.TempDir()
	var calls []string
	l := &Launchd{
		Label:      DefaultLabel,
		BinPath:    filepath.Join(home, "bin", "anchor"),
		Home:       home,
		ConfigFile: filepath.Join(home, ".anchor", "config"),
		Out:        &bytes.Buffer{},
		run: func(args ...string) error {
			calls = append(calls, strings.Join(args, " "))
			return nil
		},
	}
	return l, &calls
}

func TestRenderPlist(t *testing.T) {
	l, _ := testLaunchd(t)
	plist, err := l.renderPlist("/srv/anchor")
	require.NoError(t, err)

	assert.Contains(t, plist, "<string>com.anchor.agent</string>")
	assert.Contains(t, plist, "<string>"+l.BinPath+"</string>\n\t\t<string>serve</string>")
	assert.Contains(t, plist, "<string>/srv/anchor</string>")
	assert.Contains(t, plist, filepath.Join(l.Home, "Library", "Logs", "anchor-stderr.log"))
}

func TestInstallAndUninstall(t *testing.T) {
	l, calls := testLaunchd(t)

	require.NoError(t, l.Install())
	assert.FileExists(t, l.BinPath)
	assert.FileExists(t, l.plistPath())
	assert.Equal(t, []string{"load " + l.plistPath()}, *calls)

	plist, err := os.ReadFile(l.plistPath())
	require.NoError(t, err)
	assert.Contains(t, string(plist), "<string>"+filepath.Dir(l.ConfigFile)+"</string>")

	// Reinstalling unloads the old agent first.
	*calls = nil
	require.NoError(t, l.Install())
	assert.Equal(t, []string{"unload " + l.plistPath(), "load " + l.plistPath()}, *calls)

	*calls = nil
	require.NoError(t, l.Uninstall())
	assert.NoFileExists(t, l.BinPath)
	assert.NoFileExists(t, l.plistPath())
	assert.Equal(t, []string{"unload " + l.plistPath()}, *calls)
}

func TestWorkDir_RelativeDatabasePath(t *testing.T) {
	l, _ := testLaunchd(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.ConfigFile), 0o700))
	require.NoError(t, os.WriteFile(l.ConfigFile, []byte("DATABASE_PATH=./anchor.db\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, l.workDir())

	require.NoError(t, os.WriteFile(l.ConfigFile, []byte("DATABASE_PATH=/var/lib/anchor.db\nLOG_DIR=/var/log/anchor\n"), 0o600))
	assert.Equal(t, filepath.Dir(l.ConfigFile), l.workDir())
}

func TestStartStop(t *testing.T) {
	l, calls := testLaunchd(t)
	require.NoError(t, l.Restart())
	assert.Equal(t, []string{"stop com.anchor.agent", "start com.anchor.agent"}, *calls)
}
