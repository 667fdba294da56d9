/*
Package config holds the configuration file definitions.

jsondb uses a single config file, jsondb.conf. It is read when a command
starts, changes apply to the next command.

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

An example config file:

	DataDir: data
	LogLevel: info
	PackageLogLevels:
		migrate: debug
	Indexes:
		-
			Path: /users
			Field: name
	UnindexedLookup: fail

A complete config file with all fields and their documentation is printed by
"jsondb config describe".
*/
package config
