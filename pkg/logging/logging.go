// Package logging centralizes zap.Logger construction for every binary,
// replacing the teacher's log.Printf("[Component] ...") convention with
// structured fields.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production zap.Logger tagged with component (e.g.
// "controller", "site"), writing leveled, JSON-free console output by
// default so it stays readable in a terminal the way the teacher's
// log.Printf output was.
func New(component string, debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("component", component)), nil
}
