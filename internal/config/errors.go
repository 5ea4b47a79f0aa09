package config

import "errors"

var (
	ErrInputMutualExclusion = errors.New("input has both url and follows set")
	ErrImportEscape         = errors.New("import path escapes the security root")
	ErrMaxImportDepth       = errors.New("maximum import depth exceeded")
)

// MaxImportDepth bounds the depth of the import DFS (spec §4.1).
const MaxImportDepth = 100
