package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DeviceNameEnv = "BLELINK_DEVICE_NAME"

var ErrHookNotFound = errors.New("automation hook not found")

// HookRunner runs an executable from the hooks directory as the automation.
type HookRunner struct {
	Dir     string
	Name    string
	Timeout time.Duration
}

func (h *HookRunner) Run(deviceName string) (string, error) {
	path := filepath.Join(h.Dir, h.Name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", path, ErrHookNotFound)
	} else if err != nil {
		return "", err
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return "", fmt.Errorf("%s is not executable", path)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Infof("Running automation '%s' for %s", h.Name, deviceName)
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(), DeviceNameEnv+"="+deviceName)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("automation '%s' failed: %w", h.Name, err)
	}
	return output, nil
}
