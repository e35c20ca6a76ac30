// Package plughost hosts dynamically loaded plugin modules.
//
// This file (report.go) contains the LoadReport of a plugin batch.
package plughost

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/go-lynx/plughost/plugins"
)

// LoadStage names the point of the load pipeline a plugin failed at.
type LoadStage string

const (
	StageOpen         LoadStage = "open"
	StageConstruct    LoadStage = "construct"
	StagePostLoad     LoadStage = "post_load"
	StageDependencies LoadStage = "dependencies"
	StageInitialize   LoadStage = "initialize"
)

// LoadFailure is one plugin that did not make it through a stage.
type LoadFailure struct {
	ID    plugins.PluginID
	Path  string
	Stage LoadStage
	Err   error
}

func (f LoadFailure) Error() string {
	return f.Err.Error()
}

func (f LoadFailure) Unwrap() error {
	return f.Err
}

// LoadStatus summarizes a LoadReport.
type LoadStatus int

const (
	// LoadEmpty indicates nothing was requested
	LoadEmpty LoadStatus = iota
	// LoadComplete indicates every requested plugin loaded without error
	LoadComplete
	// LoadPartial indicates some plugins loaded and some failed
	LoadPartial
	// LoadFailed indicates no requested plugin loaded
	LoadFailed
)

func (s LoadStatus) String() string {
	switch s {
	case LoadEmpty:
		return "empty"
	case LoadComplete:
		return "complete"
	case LoadPartial:
		return "partial"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoadReport is the outcome of one LoadPlugins batch. A plugin whose
// Initialize failed is both loaded and listed as a failure.
type LoadReport struct {
	Requested int
	Loaded    []plugins.PluginID
	Failed    []LoadFailure
	Duration  time.Duration
}

// Status summarizes the report.
func (r *LoadReport) Status() LoadStatus {
	switch {
	case r == nil || r.Requested == 0:
		return LoadEmpty
	case len(r.Loaded) == 0:
		return LoadFailed
	case len(r.Failed) == 0:
		return LoadComplete
	default:
		return LoadPartial
	}
}

// Err aggregates every failure, nil when there is none.
func (r *LoadReport) Err() error {
	if r == nil {
		return nil
	}
	var result *multierror.Error
	for _, f := range r.Failed {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// FailureOf returns the first failure recorded for id.
func (r *LoadReport) FailureOf(id plugins.PluginID) (LoadFailure, bool) {
	if r == nil {
		return LoadFailure{}, false
	}
	for _, f := range r.Failed {
		if f.ID == id {
			return f, true
		}
	}
	return LoadFailure{}, false
}

func (r *LoadReport) fail(id plugins.PluginID, path string, stage LoadStage, err error) {
	r.Failed = append(r.Failed, LoadFailure{ID: id, Path: path, Stage: stage, Err: err})
}
