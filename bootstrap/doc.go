// Package bootstrap provides application initialization and lifecycle management.
// It extracts the wiring logic from main.go into testable, composable components.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
package bootstrap
