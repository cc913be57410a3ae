// Package content embeds the default ruleset: race and class templates,
// quest types, balance constants and the level curve.
package content

import "embed"

// FS holds the default ruleset files rooted at this directory.
//
//go:embed races classes quest_types rules.yaml levels.yaml
var FS embed.FS
