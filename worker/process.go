package worker

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	envPort           = "PORT"
	envLog            = "LOG"
	envGlobalRenderer = "GLOBAL_RENDERER"
)

// command builds the shell invocation that runs the entry module with the configured runtime.
func (w *Worker) command(cfg Config) *exec.Cmd {
	line := w.runtime + " " + quote(cfg.Entry)
	cmd := exec.Command(w.shell, shellFlag, line)
	cmd.Env = environ(os.Environ(), cfg)
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr
	setProcAttr(cmd)
	return cmd
}

// environ returns base with the renderer variables set.
// Inherited values of those variables are dropped, so GLOBAL_RENDERER is only present if configured.
func environ(base []string, cfg Config) []string {
	env := make([]string, 0, len(base)+3)
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		switch name {
		case envPort, envLog, envGlobalRenderer:
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		envPort+"="+strconv.Itoa(cfg.Port),
		envLog+"="+cfg.LogLevel,
	)
	if cfg.GlobalRenderer != "" {
		env = append(env, envGlobalRenderer+"="+cfg.GlobalRenderer)
	}
	return env
}
