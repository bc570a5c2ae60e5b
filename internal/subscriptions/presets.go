package subscriptions

import (
	"fmt"
	"strings"
)

// fileWriteContexts lists the hook status_context values a file-editing
// tool call is recorded under, across all three supported tools.
const fileWriteContexts = "('tool:Write', 'tool:Edit', 'tool:write_file', 'tool:replace', 'tool:apply_patch')"

// shellToolContexts lists the status_context values a shell-command tool
// call is recorded under.
const shellToolContexts = "('tool:Bash', 'tool:run_shell_command', 'tool:shell')"

// systemPresets need no target parameter; they fire for any instance.
var systemPresets = map[string]string{
	"collision": "type = 'status' AND status_context IN " + fileWriteContexts +
		" AND EXISTS (SELECT 1 FROM events_v e WHERE e.type = 'status'" +
		" AND e.status_context IN " + fileWriteContexts +
		" AND e.status_detail = events_v.status_detail" +
		" AND e.instance != events_v.instance" +
		" AND ABS(strftime('%s', events_v.ts) - strftime('%s', e.ts)) < 20)",
	"created": "type = 'life' AND life_action = 'created'",
	"stopped": "type = 'life' AND life_action = 'stopped'",
	"blocked": "type = 'status' AND status_status = 'blocked'",
}

// targetPresets are parameterised by an instance name: `idle:veki`,
// `file_edits:nova`.
var targetPresets = map[string]string{
	"idle":       "type = 'status' AND instance = '%s' AND status_status = 'listening'",
	"file_edits": "type = 'status' AND instance = '%s' AND status_context IN " + fileWriteContexts,
	"created":    "type = 'life' AND instance = '%s' AND life_action = 'created'",
	"stopped":    "type = 'life' AND instance = '%s' AND life_action = 'stopped'",
	"blocked":    "type = 'status' AND instance = '%s' AND status_status = 'blocked'",
}

// commandPresets are parameterised by a shell command pattern: `cmd:"git
// commit"`, `cmd-starts:"git"`, `cmd-exact:"git status"`.
var commandPresets = map[string]string{
	"cmd":        "type = 'status' AND status_context IN " + shellToolContexts + " AND status_detail LIKE '%%%s%%' ESCAPE '\\'",
	"cmd-starts": "type = 'status' AND status_context IN " + shellToolContexts + " AND status_detail LIKE '%s%%' ESCAPE '\\'",
	"cmd-exact":  "type = 'status' AND status_context IN " + shellToolContexts + " AND status_detail = '%s'",
}

// Preset resolves a preset name (optionally with a target or pattern, e.g.
// "idle:veki" or `cmd:"git commit"`) to a predicate string suitable for
// Create. System-wide presets ("collision") take no parameter.
func Preset(spec string) (string, error) {
	name, param, hasParam := strings.Cut(spec, ":")

	if pred, ok := systemPresets[name]; ok && !hasParam {
		return pred, nil
	}
	if pred, ok := targetPresets[name]; ok {
		if !hasParam || param == "" {
			return "", fmt.Errorf("subscriptions: preset %q requires an instance name, e.g. %s:NAME", name, name)
		}
		return fmt.Sprintf(pred, sqlQuote(param)), nil
	}
	if pred, ok := commandPresets[name]; ok {
		if !hasParam || param == "" {
			return "", fmt.Errorf("subscriptions: preset %q requires a pattern, e.g. %s:PATTERN", name, name)
		}
		return fmt.Sprintf(pred, sqlQuote(sqlLikeEscape(param))), nil
	}
	if pred, ok := systemPresets[name]; ok {
		// A system preset given a (spurious) parameter still works; the
		// parameter is just ignored.
		return pred, nil
	}
	return "", fmt.Errorf("subscriptions: unknown preset %q", name)
}

// sqlQuote escapes a value for embedding directly in a predicate string
// baked into the subscription row: single quotes are doubled, SQLite's
// standard literal-escaping convention.
func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// sqlLikeEscape backslash-escapes LIKE wildcards in a pattern so a literal
// "%" or "_" in a command the caller is matching on isn't mistaken for a
// wildcard; paired with the commandPresets' ESCAPE '\' clause.
func sqlLikeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
