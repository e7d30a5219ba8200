/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides helpers on top of log/slog shared by all
// control plane components.
package log

import (
	"log/slog"
	"os"
)

// NewPackageLogger creates a logger for a specific package, adding the
// provided attributes to every entry.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.With(args...)
}

// Init configures the process-wide default logger. Debug enables
// verbose output; logs are written to stderr as text.
func Init(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
