// Package logging provides structured logging with run/schedule/agent
// correlation, built on logrus the way the teacher's infrastructure/logging
// package is.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through the execution
// core so every log line can be correlated back to the entity it concerns.
type ContextKey string

const (
	TraceIDKey    ContextKey = "trace_id"
	RunIDKey      ContextKey = "run_id"
	TestIDKey     ContextKey = "test_id"
	ScheduleIDKey ContextKey = "schedule_id"
	AgentIDKey    ContextKey = "agent_id"
)

// Logger wraps logrus.Logger with a fixed service name, constructed
// explicitly at startup and threaded through constructors — no package
// global, per spec §9's rejection of service-graph singletons.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the given service, level ("debug"|"info"|...)
// and format ("json"|"text").
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// WithContext returns an entry carrying every correlation field present on
// ctx plus the fixed service name.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	for key, field := range map[ContextKey]string{
		TraceIDKey:    "trace_id",
		RunIDKey:      "run_id",
		TestIDKey:     "test_id",
		ScheduleIDKey: "schedule_id",
		AgentIDKey:    "agent_id",
	} {
		if v := ctx.Value(key); v != nil {
			entry = entry.WithField(field, v)
		}
	}
	return entry
}

// WithRunID adds a run correlation field to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithTestID adds a test correlation field to ctx.
func WithTestID(ctx context.Context, testID string) context.Context {
	return context.WithValue(ctx, TestIDKey, testID)
}

// WithScheduleID adds a schedule correlation field to ctx.
func WithScheduleID(ctx context.Context, scheduleID string) context.Context {
	return context.WithValue(ctx, ScheduleIDKey, scheduleID)
}

// WithAgentID adds an agent-execution correlation field to ctx.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// RunTransition logs a Run status change, the event the History Recorder
// and test suites key off of.
func (l *Logger) RunTransition(ctx context.Context, from, to string, attempt int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"from":    from,
		"to":      to,
		"attempt": attempt,
	}).Info("run transition")
}

// ScheduleTick logs one Scheduler polling pass.
func (l *Logger) ScheduleTick(ctx context.Context, due int, submitted int, skippedOverlap int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"due":             due,
		"submitted":       submitted,
		"skipped_overlap": skippedOverlap,
	}).Debug("scheduler tick")
}

// AgentIteration logs one Fix Agent loop iteration.
func (l *Logger) AgentIteration(ctx context.Context, iteration int, kind string, cost float64) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"iteration": iteration,
		"kind":      kind,
		"cost":      cost,
	}).Info("agent iteration")
}
