package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/crewd/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the coordination dashboard",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Start the daemon first if nothing is listening.
	if health, err := CheckHealth(); err != nil || health == nil || !health.OK {
		fmt.Println("crewd daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr, apiToken)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Start "crewd daemon" detached so it survives the TUI exiting.
	daemon := exec.Command(exe, "daemon")
	configureDaemonProc(daemon)

	// Detach stdio so the child never writes over the TUI screen.
	daemon.Stdin = nil
	daemon.Stdout = nil
	daemon.Stderr = nil

	if err := daemon.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if health, err := CheckHealth(); err == nil && health.OK {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
