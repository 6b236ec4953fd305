// Package validation checks configuration structs against their
// `validate` tags and reports violations as an AppError whose details list
// each offending config key.
package validation
