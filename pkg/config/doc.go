// Package config loads and validates sanesync configuration.
//
// Configuration is read from a YAML file, or from CUE files when the path
// ends in .cue. CUE input is checked against a closed #Config schema before
// it is decoded, so unknown fields and out-of-range values are reported with
// their file and line. Both formats decode over Default, so a file only
// needs the settings it changes:
//
//	catalog:
//	  type: file
//	  file:
//	    path: export.json
//	sync:
//	  write_delay: 250ms
//	  unresolved_pairs: warn
//
// After decoding, SANESYNC_* environment variables override individual
// settings (see ApplyEnv) and Validate applies the struct constraints.
// Errors from either stage are returned as ValidationErrors.
package config
