package service

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/joho/godotenv"

	"github.com/chris/anchor/config"
)

const DefaultLabel = "com.anchor.agent"

// Launchd installs and controls `anchor serve` as a macOS user agent.
type Launchd struct {
	Label   string
	BinPath string // where the binary is installed
	Home    string
	// ConfigFile is seeded from ./.env on install when missing.
	ConfigFile string
	Out        io.Writer

	// run executes launchctl; tests replace it.
	run func(args ...string) error
}

func New() *Launchd {
	home, _ := os.UserHomeDir()
	return &Launchd{
		Label:      DefaultLabel,
		BinPath:    "/usr/local/bin/anchor",
		Home:       home,
		ConfigFile: config.ConfigFile(),
		Out:        os.Stdout,
		run:        launchctl,
	}
}

func (l *Launchd) plistPath() string {
	return filepath.Join(l.Home, "Library", "LaunchAgents", l.Label+".plist")
}

func (l *Launchd) logDir() string {
	return filepath.Join(l.Home, "Library", "Logs")
}

func (l *Launchd) stdoutLogPath() string { return filepath.Join(l.logDir(), "anchor-stdout.log") }
func (l *Launchd) stderrLogPath() string { return filepath.Join(l.logDir(), "anchor-stderr.log") }

// Install copies the running binary to BinPath, seeds the config file from
// .env if needed, writes the plist and loads it.
func (l *Launchd) Install() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolving symlinks: %w", err)
	}
	if err := copyFile(exe, l.BinPath, 0o755); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(l.Out, "installed binary to %s\n", l.BinPath)

	if err := l.seedConfig(); err != nil {
		return err
	}

	plist, err := l.renderPlist(l.workDir())
	if err != nil {
		return fmt.Errorf("generating plist: %w", err)
	}
	if _, err := os.Stat(l.plistPath()); err == nil {
		_ = l.run("unload", l.plistPath())
	}
	if err := os.MkdirAll(filepath.Dir(l.plistPath()), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(l.plistPath(), []byte(plist), 0o644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	fmt.Fprintf(l.Out, "wrote plist to %s\n", l.plistPath())

	if err := l.run("load", l.plistPath()); err != nil {
		return fmt.Errorf("loading plist: %w", err)
	}
	fmt.Fprintln(l.Out, "service loaded and will start on login")
	return nil
}

func (l *Launchd) seedConfig() error {
	if _, err := os.Stat(l.ConfigFile); err == nil {
		fmt.Fprintf(l.Out, "config already exists at %s\n", l.ConfigFile)
		return nil
	}
	envData, err := os.ReadFile(".env")
	if err != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.ConfigFile), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(l.ConfigFile, envData, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(l.Out, "seeded config from .env -> %s\n", l.ConfigFile)
	return nil
}

// workDir is the current directory when the configured database or log
// directory is relative, so those paths keep resolving the same way.
func (l *Launchd) workDir() string {
	env, _ := godotenv.Read(l.ConfigFile)
	for _, key := range []string{"DATABASE_PATH", "LOG_DIR"} {
		if p, ok := env[key]; ok && !filepath.IsAbs(p) {
			if wd, err := os.Getwd(); err == nil {
				return wd
			}
		}
	}
	return filepath.Dir(l.ConfigFile)
}

// Uninstall unloads and removes the plist and the installed binary.
func (l *Launchd) Uninstall() error {
	if _, err := os.Stat(l.plistPath()); err == nil {
		if err := l.run("unload", l.plistPath()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: unload failed: %v\n", err)
		}
		if err := os.Remove(l.plistPath()); err != nil {
			return fmt.Errorf("removing plist: %w", err)
		}
		fmt.Fprintf(l.Out, "removed %s\n", l.plistPath())
	} else {
		fmt.Fprintln(l.Out, "plist not found, skipping")
	}

	if _, err := os.Stat(l.BinPath); err == nil {
		if err := os.Remove(l.BinPath); err != nil {
			return fmt.Errorf("removing binary: %w", err)
		}
		fmt.Fprintf(l.Out, "removed %s\n", l.BinPath)
	} else {
		fmt.Fprintf(l.Out, "binary not found at %s, skipping\n", l.BinPath)
	}

	fmt.Fprintln(l.Out, "uninstalled")
	return nil
}

func (l *Launchd) Start() error {
	return l.run("start", l.Label)
}

func (l *Launchd) Stop() error {
	return l.run("stop", l.Label)
}

func (l *Launchd) Restart() error {
	_ = l.Stop()
	return l.Start()
}

func (l *Launchd) Status() error {
	cmd := exec.Command("launchctl", "list", l.Label)
	cmd.Stdout = l.Out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(l.Out, "service is not loaded")
	}
	return nil
}

// Logs tails both stdout and stderr log files.
func (l *Launchd) Logs() error {
	cmd := exec.Command("tail", "-f", l.stdoutLogPath(), l.stderrLogPath())
	cmd.Stdout = l.Out
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func launchctl(args ...string) error {
	cmd := exec.Command("launchctl", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("launchctl %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinPath}}</string>
		<string>serve</string>
	</array>
	<key>WorkingDirectory</key>
	<string>{{.WorkDir}}</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.StdoutLog}}</string>
	<key>StandardErrorPath</key>
	<string>{{.StderrLog}}</string>
</dict>
</plist>
`))

type plistData struct {
	Label     string
	BinPath   string
	WorkDir   string
	StdoutLog string
	StderrLog string
}

func (l *Launchd) renderPlist(workDir string) (string, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, plistData{
		Label:     l.Label,
		BinPath:   l.BinPath,
		WorkDir:   workDir,
		StdoutLog: l.stdoutLogPath(),
		StderrLog: l.stderrLogPath(),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
