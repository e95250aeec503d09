package main

import (
	"context"
	"os/exec"
	"runtime"
)

// openerCommand returns the platform command that opens target in the
// default browser.
func openerCommand(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}

func openChart(ctx context.Context, target string) error {
	name, args := openerCommand(runtime.GOOS, target)
	return exec.CommandContext(ctx, name, args...).Start()
}
