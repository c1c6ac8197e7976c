// Package parser maps paths on the NAS volume to client, case and document metadata.
//
// The volume follows one firm's filing convention:
//
//	<root>/
//	    1xxx_ClientName/        individual clients
//	    2xxx_BusinessName/      business entities
//	        2024/               year folders become cases
//	        Permanent/          evergreen documents
//	        Tax Notice/         special tagged folders
//
// Parse is a pure function of the configured rules and the path: it never
// returns an error and the same path always yields the same ParsedPath. Paths
// that cannot be ingested are reported with IsValid false and a SkipReason
// such as "Not under NAS root" or "Invalid client folder format: BadFolder".
//
// Skip patterns are shell globs (*, ?) converted to anchored regular expressions
// by GlobToRegex. Document tags are collected from every matching rule, so a
// filename like "W-2 and 1099 combined.pdf" carries both W2 and 1099.
package parser
