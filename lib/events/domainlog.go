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

// Package events records domain lifecycle events to an append-only
// audit log.
package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/nsl-labs/router/lib/defaults"
)

// DomainLog appends one line per domain assignment or release. Lines
// are flushed on every write so the log survives a crash; the file is
// opened lazily and kept open for the server's lifetime.
type DomainLog struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	clock clockwork.Clock
}

// DomainLogConfig configures the audit log.
type DomainLogConfig struct {
	// Path is the log file location, parent directories are created on
	// first write.
	Path string
	// Clock overrides the time source, used in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values.
func (c *DomainLogConfig) CheckAndSetDefaults() error {
	if c.Path == "" {
		c.Path = defaults.DomainLogPath
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewDomainLog returns an audit log writing to the configured path.
func NewDomainLog(cfg DomainLogConfig) (*DomainLog, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &DomainLog{path: cfg.Path, clock: cfg.Clock}, nil
}

// RecordAssigned logs a domain assignment.
func (l *DomainLog) RecordAssigned(label, userID string) error {
	return l.append(fmt.Sprintf("ASSIGNED %v to %v", label, userID))
}

// RecordReleased logs an automatic release of an inactive domain.
func (l *DomainLog) RecordReleased(label, userID string, inactiveDays int) error {
	return l.append(fmt.Sprintf("RELEASED %v from %v (inactive %v days)", label, userID, inactiveDays))
}

// Close closes the underlying file. Safe to call on a log that never
// wrote anything.
func (l *DomainLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return trace.ConvertSystemError(err)
}

func (l *DomainLog) append(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), defaults.DirMode); err != nil {
			return trace.ConvertSystemError(err)
		}
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaults.LogFileMode)
		if err != nil {
			return trace.ConvertSystemError(err)
		}
		l.file = file
	}

	line := fmt.Sprintf("%v %v\n", l.clock.Now().UTC().Format(time.RFC3339), message)
	if _, err := l.file.WriteString(line); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}
