package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/config"
	"github.com/edulabs/labscope/internal/hub"
	"github.com/edulabs/labscope/internal/runtime"
	"github.com/edulabs/labscope/internal/scoring"
)

func watchCmd() *cobra.Command {
	var (
		modulesPath string
		moduleID    string
		student     string
		sessionDir  string
		socketPath  string
		presetID    string
		attempt     int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Host a live session fed by watcher observations on stdin",
		Long: `Run one live event hub for a module.

Observations arrive as NDJSON on stdin, one object per line:
  {"kind": "action", "text": "sudo su", "exitCode": 0}
  {"kind": "completed", "stepId": "become-root", "script": "check_root.sh"}

Completions are appended to the session telemetry log, written to the
state snapshot and pushed to the UI socket. SIGINT, SIGTERM or stdin
closing end the session cleanly.

Examples:
  shellwatcher | labscope watch --module linux-basics
  labscope watch --module linux-basics < observations.ndjson`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if moduleID == "" {
				moduleID = config.Env().Module
			}
			if moduleID == "" {
				fatalErrorf("module id required (--module or LABSCOPE_MODULE)")
			}
			catalog, err := loadCatalog(modulesPath)
			if err != nil {
				fatalError(err)
			}
			mod, err := catalog.Lookup(moduleID)
			if err != nil {
				fatalError(err)
			}
			preset, err := scoring.Lookup(presetID)
			if err != nil {
				fatalError(err)
			}

			if student == "" {
				student = config.StudentID("student")
			}
			if sessionDir == "" {
				sessionDir = filepath.Join(config.GetPaths().Sessions,
					fmt.Sprintf("watch-%d", time.Now().Unix()))
			}
			if err := config.EnsureDir(sessionDir); err != nil {
				fatalError(err)
			}
			if socketPath == "" {
				socketPath = config.SocketPath()
			}

			adapter := hub.NewStreamAdapter(mod.LabType, mod.ID, os.Stdin)
			h, err := hub.New(hub.Config{
				Dir:        sessionDir,
				Module:     mod,
				StudentID:  student,
				Attempt:    attempt,
				Preset:     preset,
				Adapter:    adapter,
				SocketPath: socketPath,
				OnCompleted: func(stepID, source string) {
					fmt.Printf("  ✓ %s (%s)\n", stepID, source)
				},
			})
			if err != nil {
				fatalError(err)
			}
			if err := h.Start(); err != nil {
				fatalError(err)
			}

			fmt.Printf("WATCHING %s (%s lab)\n", mod.ID, mod.LabType)
			fmt.Println()
			fmt.Printf("  Session: %s\n", h.SessionID())
			fmt.Printf("  Student: %s\n", student)
			fmt.Printf("  Dir:     %s\n", sessionDir)
			fmt.Println()

			mgr := runtime.Global()
			mgr.Register("hub", func(ctx context.Context) error {
				return h.Stop()
			})
			mgr.ListenForSignals()

			// stdin closing means the watcher process is gone.
			go func() {
				adapter.Wait()
				mgr.Shutdown()
			}()

			mgr.WaitForShutdown()

			fmt.Println()
			fmt.Printf("Session %s ended: %d steps completed\n",
				h.SessionID(), len(h.CompletedSteps()))
		},
	}

	cmd.Flags().StringVarP(&modulesPath, "modules", "m", "", "Module catalog file (default ~/.labscope/modules.yaml)")
	cmd.Flags().StringVar(&moduleID, "module", "", "Module to watch (default LABSCOPE_MODULE)")
	cmd.Flags().StringVar(&student, "student", "", "Student identity (default LABSCOPE_STUDENT)")
	cmd.Flags().StringVar(&sessionDir, "dir", "", "Session directory (default under ~/.labscope/sessions)")
	cmd.Flags().StringVar(&socketPath, "socket", "", "UI socket path (default LABSCOPE_SOCKET or ~/.labscope/ui.sock)")
	cmd.Flags().StringVarP(&presetID, "preset", "p", scoring.PresetPartialCredit, "Scoring preset for live scores")
	cmd.Flags().IntVar(&attempt, "attempt", 1, "Attempt number for this session")

	return cmd
}
