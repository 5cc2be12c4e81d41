package action

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

const (
	DefaultADB = "adb"

	tapTimeout  = 5 * time.Second
	sizeTimeout = 6 * time.Second
	shotTimeout = 15 * time.Second
)

var sizeRe = regexp.MustCompile(`(?:Override|Physical) size:\s*(\d+)\s*x\s*(\d+)`)

// ADB drives an Android device through the adb command line tool.
type ADB struct {
	exe     string
	serial  string
	shotDir string
	now     func() time.Time

	mu     sync.Mutex
	width  int
	height int
}

// ADBOption configures an ADB executor.
type ADBOption func(*ADB)

// WithSerial targets a specific device (adb -s).
func WithSerial(serial string) ADBOption {
	return func(a *ADB) { a.serial = serial }
}

// WithScreenSize skips the wm size query.
func WithScreenSize(w, h int) ADBOption {
	return func(a *ADB) { a.width, a.height = w, h }
}

// NewADB creates an executor using exe (DefaultADB when empty). Screenshots
// land in shotDir.
func NewADB(exe, shotDir string, opts ...ADBOption) *ADB {
	if exe == "" {
		exe = DefaultADB
	}
	a := &ADB{exe: exe, shotDir: shotDir, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Perform runs a tap, tap_pct or screenshot.
func (a *ADB) Perform(ctx context.Context, act model.Action) (bool, string) {
	switch act.Type {
	case model.ActionTap:
		if act.X < 0 || act.Y < 0 {
			return false, "tap needs x/y >= 0"
		}
		return a.tap(ctx, act.X, act.Y, fmt.Sprintf("tap(%d,%d)", act.X, act.Y))
	case model.ActionTapPct:
		if act.PX < 0 || act.PX > 1 || act.PY < 0 || act.PY > 1 {
			return false, "tap_pct needs px/py in [0..1]"
		}
		w, h, err := a.screenSize(ctx)
		if err != nil {
			return false, fmt.Sprintf("tap_pct unavailable without device size: %v", err)
		}
		x := int(math.Round(act.PX * float64(w)))
		y := int(math.Round(act.PY * float64(h)))
		return a.tap(ctx, x, y, fmt.Sprintf("tap_pct(%.2f,%.2f)=>(%d,%d)", act.PX, act.PY, x, y))
	case model.ActionScreenshot:
		return a.screenshot(ctx, act.File)
	default:
		return false, fmt.Sprintf("unknown action: %s", act.Type)
	}
}

func (a *ADB) tap(ctx context.Context, x, y int, label string) (bool, string) {
	_, err := a.run(ctx, tapTimeout, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	if err != nil {
		slog.Warn("adb tap failed", "x", x, "y", y, "error", err)
		return false, label + " fail"
	}
	return true, label + " ok"
}

// screenSize queries wm size once and caches the answer.
func (a *ADB) screenSize(ctx context.Context) (int, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.width > 0 && a.height > 0 {
		return a.width, a.height, nil
	}
	out, err := a.run(ctx, sizeTimeout, "shell", "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	w, h, err := ParseSize(string(out))
	if err != nil {
		return 0, 0, err
	}
	a.width, a.height = w, h
	return w, h, nil
}

func (a *ADB) screenshot(ctx context.Context, file string) (bool, string) {
	if file == "" {
		file = fmt.Sprintf("shot_%s.png", a.now().Format("2006-01-02_15-04-05"))
	}
	dir := a.shotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Sprintf("screenshot error: %v", err)
	}
	path := filepath.Join(dir, filepath.Base(file))

	out, err := a.run(ctx, shotTimeout, "exec-out", "screencap", "-p")
	if err != nil {
		return false, fmt.Sprintf("screenshot error: %v", err)
	}
	if len(out) == 0 {
		return false, "screenshot failed: " + path
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Sprintf("screenshot error: %v", err)
	}
	return true, path
}

func (a *ADB) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.exe, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("adb %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("adb %s: %w", args[0], err)
	}
	return out, nil
}

// ParseSize reads the output of `wm size`. An override size wins over the
// physical one.
func ParseSize(out string) (int, int, error) {
	var w, h int
	for _, m := range sizeRe.FindAllStringSubmatch(out, -1) {
		mw, _ := strconv.Atoi(m[1])
		mh, _ := strconv.Atoi(m[2])
		if w == 0 || m[0][0] == 'O' {
			w, h = mw, mh
		}
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("no size in %q", out)
	}
	return w, h, nil
}
