package app

import (
	"context"
	"vtcode/config"
	"vtcode/core"
	"vtcode/internal/metrics"
	"vtcode/ui"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

// Application holds all wired dependencies and manages the application lifecycle.
type Application struct {
	Config            config.Config
	Session           *core.Session
	Scaffold          *ui.Scaffold
	Program           *tea.Program
	CurrencyFormatter *core.CurrencyFormatter
	Tracker           *core.Tracker
	Logger            *zap.Logger
	Metrics           *metrics.Recorder
}

// Run starts the application and blocks until it exits.
// Returns an error if initialization or runtime fails.
func (a *Application) Run(ctx context.Context) error {
	// Derive a cancelable context so in-flight provider calls are interrupted on exit.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start core session
	a.Session.Start(ctx)

	// Run Bubble Tea program (blocks until exit)
	_, runErr := a.Program.Run()

	// Stop the session loop first â€” guarantees the loop goroutine has fully
	// drained and no concurrent history mutations are in progress.
	cancel()
	a.Session.Stop()

	// Now it's safe to snapshot and persist the session.
	workDir, _ := os.Getwd()
	if err := core.SaveSession(a.Session, a.Tracker, a.Config.SessionsDir, workDir); err != nil {
		if a.Logger != nil {
			a.Logger.Warn("session save failed", zap.Error(err))
		}
	}

	return runErr
}
