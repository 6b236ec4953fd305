// Package stages holds the built-in analysis stages and the plugin stage
// that runs an external executable, plus Register, which adds all of them
// to a pipeline.Registry.
//
// Stages read their parameters from the scheduler's config.Params when
// they are created, under the stage name:
//
//	params:
//	  regex:
//	    min_length: 4
//	  delay:
//	    duration: 2s
package stages
