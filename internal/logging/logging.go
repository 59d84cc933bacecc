package logging

import (
	"os"

	"go.uber.org/zap"
)

// New builds the process-wide logger. APP_ENV=production switches to the
// JSON production config; anything else gets the development console encoder.
func New() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("APP_ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
